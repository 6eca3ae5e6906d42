package gateway

import (
	"github.com/kelmah/apigateway/internal/config"
	"github.com/kelmah/apigateway/internal/discovery"
	"github.com/kelmah/apigateway/internal/router"
)

// routeTable converts configured routes, falling back to the built-in
// platform table when none are configured.
func routeTable(cfgs []config.RouteConfig) []router.Route {
	if len(cfgs) == 0 {
		return router.DefaultRoutes()
	}

	routes := make([]router.Route, 0, len(cfgs))
	for _, rc := range cfgs {
		rewrites := make([]router.RewriteRule, 0, len(rc.Rewrite))
		for _, rw := range rc.Rewrite {
			rewrites = append(rewrites, router.RewriteRule{
				Pattern:     rw.Pattern,
				Replacement: rw.Replacement,
			})
		}
		routes = append(routes, router.Route{
			Name: rc.Name,
			Match: router.Match{
				Exact:   rc.Exact,
				Prefix:  rc.Prefix,
				Regex:   rc.Regex,
				Methods: rc.Methods,
			},
			Service:              rc.Service,
			Auth:                 router.AuthMode(rc.Auth),
			Roles:                rc.Roles,
			MethodRoles:          rc.MethodRoles,
			RequireEmailVerified: rc.RequireEmailVerified,
			Rewrite:              rewrites,
			NoSlashBeforeQuery:   rc.NoSlashBeforeQuery,
			Timeout:              rc.Timeout.Duration(),
		})
	}
	return routes
}

func discoveryServices(cfgs []config.ServiceConfig) []discovery.Service {
	out := make([]discovery.Service, 0, len(cfgs))
	for _, s := range cfgs {
		out = append(out, discovery.Service{
			Name:     s.Name,
			LocalURL: s.LocalURL,
			CloudURL: s.CloudURL,
		})
	}
	return out
}
