package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kelmah/apigateway/internal/apierr"
	"github.com/kelmah/apigateway/internal/discovery"
	"github.com/kelmah/apigateway/internal/observability"
	"github.com/kelmah/apigateway/internal/proxy"
	"github.com/kelmah/apigateway/internal/router"
	"github.com/kelmah/apigateway/internal/trust"
)

// maxDirectResponse caps the auth service response read into memory.
const maxDirectResponse = 1 << 20

var errDirectResponseTooLarge = errors.New("auth service response exceeds size limit")

// directAuth posts login and register bodies straight to the auth service
// with its own short timeout instead of going through the generic proxy.
type directAuth struct {
	services  discovery.Resolver
	transport http.RoundTripper
	timeout   time.Duration
	logger    observability.Logger
}

func (d *directAuth) handle(c *gin.Context) {
	start := time.Now()
	path := c.Request.URL.Path
	status, state, err := d.dispatch(c, path)

	fields := []observability.Field{
		observability.String("method", c.Request.Method),
		observability.String("path", path),
		observability.String("service", router.ServiceAuth),
		observability.Int("status", status),
		observability.String("state", state.String()),
		observability.Duration("duration", time.Since(start)),
		observability.String("request_id", observability.RequestIDFromContext(c.Request.Context())),
	}
	if err != nil {
		d.logger.Warn("direct auth request", append(fields, observability.Error(err))...)
		return
	}
	d.logger.Info("direct auth request", fields...)
}

func (d *directAuth) dispatch(c *gin.Context, path string) (int, proxy.State, error) {
	var body json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		e := apierr.BadRequest(err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			e = apierr.PayloadTooLarge()
		}
		apierr.Write(c.Writer, e)
		return e.Status, proxy.StateRejected, err
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), d.timeout)
	defer cancel()

	base, err := d.services.Resolve(ctx, router.ServiceAuth)
	if err != nil {
		apierr.Write(c.Writer, apierr.ServiceUnavailable(err))
		return http.StatusServiceUnavailable, proxy.StateFailed, err
	}
	target := base.JoinPath(path)

	req, err := http.NewRequestWithContext(proxy.ContextWithService(ctx, router.ServiceAuth),
		http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		apierr.Write(c.Writer, apierr.UpstreamFailure(err))
		return http.StatusInternalServerError, proxy.StateFailed, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(trust.HeaderInternal, trust.InternalValue)
	if ua := c.Request.UserAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if id := observability.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	req.Header.Set("X-Forwarded-For", c.ClientIP())
	observability.InjectTraceContext(ctx, req.Header)

	resp, err := d.transport.RoundTrip(req)
	if err != nil {
		state, e := proxy.Classify(err)
		if e == nil {
			return 499, state, err
		}
		apierr.Write(c.Writer, e)
		return e.Status, state, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxDirectResponse+1))
	if err != nil {
		state, e := proxy.Classify(err)
		if e == nil {
			return 499, state, err
		}
		apierr.Write(c.Writer, e)
		return e.Status, state, err
	}
	if len(payload) > maxDirectResponse {
		e := apierr.UpstreamFailure(errDirectResponseTooLarge)
		apierr.Write(c.Writer, e)
		return e.Status, proxy.StateFailed, errDirectResponseTooLarge
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	for _, h := range []string{"Set-Cookie", "X-Request-ID"} {
		for _, v := range resp.Header.Values(h) {
			c.Writer.Header().Add(h, v)
		}
	}
	c.Data(resp.StatusCode, contentType, payload)
	return resp.StatusCode, proxy.StateResponded, nil
}
