package router

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/kelmah/apigateway/internal/apierr"
	"github.com/kelmah/apigateway/internal/auth"
	"github.com/kelmah/apigateway/internal/authz"
	"github.com/kelmah/apigateway/internal/discovery"
	"github.com/kelmah/apigateway/internal/identity"
	"github.com/kelmah/apigateway/internal/observability"
	"github.com/kelmah/apigateway/internal/proxy"
)

var slashRun = regexp.MustCompile(`/{2,}`)

// Authenticator resolves the caller identity from an Authorization header.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (*auth.RequestContext, error)
}

// Authorizer gates an identity against a requirement.
type Authorizer interface {
	Authorize(ctx context.Context, u *identity.Identity, req authz.Requirement) error
}

// Forwarder sends a request upstream.
type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, t proxy.Target)
}

// Handler runs the gateway pipeline for routed requests.
type Handler struct {
	router    *Router
	services  discovery.Resolver
	authn     Authenticator
	authz     Authorizer
	forwarder Forwarder
	logger    observability.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger.
func WithHandlerLogger(logger observability.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler composes the pipeline.
func NewHandler(
	r *Router,
	services discovery.Resolver,
	authn Authenticator,
	authorizer Authorizer,
	forwarder Forwarder,
	opts ...HandlerOption,
) *Handler {
	h := &Handler{
		router:    r,
		services:  services,
		authn:     authn,
		authz:     authorizer,
		forwarder: forwarder,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r = collapsePath(r)
	ctx := r.Context()

	res, err := h.router.Match(r.Method, r.URL.Path)
	if err != nil {
		h.logger.Debug("route not found",
			observability.String("method", r.Method),
			observability.String("path", r.URL.Path),
		)
		apierr.Write(w, err)
		return
	}
	route := res.Route
	observability.SetRoute(ctx, route.Name)

	rc, err := h.authenticate(ctx, r, route)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	if rc != nil {
		ctx = auth.WithRequestContext(ctx, rc)
	}

	base, err := h.services.Resolve(ctx, route.Service)
	if err != nil {
		h.logger.WithContext(ctx).Error("service resolution failed",
			observability.String("route", route.Name),
			observability.String("service", route.Service),
			observability.Error(err),
		)
		apierr.Write(w, apierr.ServiceUnavailable(err))
		return
	}

	h.forwarder.Forward(w, r.WithContext(ctx), proxy.Target{
		Service:  route.Service,
		BaseURL:  base,
		Prefix:   route.Prefix(),
		Rewriter: route.rewriter,
		Timeout:  route.Timeout,
	})
}

// collapsePath folds slash runs in the request path so the route is matched
// against the same path the upstream receives.
func collapsePath(r *http.Request) *http.Request {
	if !strings.Contains(r.URL.Path, "//") && !strings.Contains(r.URL.RawPath, "//") {
		return r
	}
	u := *r.URL
	u.Path = slashRun.ReplaceAllString(u.Path, "/")
	u.RawPath = slashRun.ReplaceAllString(u.RawPath, "/")

	out := new(http.Request)
	*out = *r
	out.URL = &u
	return out
}

// authenticate applies the route's auth mode. It returns a nil context for
// anonymous requests.
func (h *Handler) authenticate(ctx context.Context, r *http.Request, route *CompiledRoute) (*auth.RequestContext, error) {
	header := r.Header.Get("Authorization")

	switch route.AuthFor(r.Method) {
	case AuthNone:
		return nil, nil
	case AuthOptional:
		if header == "" {
			return nil, nil
		}
	}

	rc, err := h.authn.Authenticate(ctx, header)
	if err != nil {
		return nil, err
	}
	if err := h.authz.Authorize(ctx, rc.User, route.Requirement(r.Method)); err != nil {
		return nil, err
	}
	return rc, nil
}
