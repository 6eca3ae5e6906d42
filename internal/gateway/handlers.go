package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kelmah/apigateway/internal/observability"
)

const bannerMessage = "Kelmah Platform API Gateway"

// Banner is the body of GET /.
type Banner struct {
	Message  string   `json:"message"`
	Services []string `json:"services"`
	Version  string   `json:"version"`
	Mode     string   `json:"mode"`
}

func (g *Gateway) banner(c *gin.Context) {
	c.JSON(http.StatusOK, Banner{
		Message:  bannerMessage,
		Services: g.registry.Services(),
		Version:  g.version,
		Mode:     string(g.registry.Mode()),
	})
}

// routeTag names the matched gin route for access logs and metrics.
// Unmatched requests are named later by the routed pipeline.
func routeTag() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p := c.FullPath(); p != "" {
			observability.SetRoute(c.Request.Context(), p)
		}
		c.Next()
	}
}
