package router

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelmah/apigateway/internal/authz"
	"github.com/kelmah/apigateway/internal/proxy"
)

// AuthMode is the authentication requirement of a route.
type AuthMode string

// Authentication modes.
const (
	// AuthRequired rejects requests without a valid token.
	AuthRequired AuthMode = "required"
	// AuthOptional authenticates when a token is presented and proxies
	// anonymously otherwise. A presented but invalid token is rejected.
	AuthOptional AuthMode = "optional"
	// AuthNone never authenticates.
	AuthNone AuthMode = "none"
)

// Match selects requests for a route. Exactly one of Exact, Prefix or
// Regex is set. Exact and Prefix may contain {param} segments.
type Match struct {
	Exact   string
	Prefix  string
	Regex   string
	Methods []string
}

// RewriteRule is a pattern/replacement pair applied to the request URI.
type RewriteRule struct {
	Pattern     string
	Replacement string
}

// Route describes one entry of the route table.
type Route struct {
	Name    string
	Match   Match
	Service string
	Auth    AuthMode
	// Roles allowed on the route. Empty lets any authenticated caller in.
	Roles []string
	// MethodRoles overrides Roles for specific methods.
	MethodRoles          map[string][]string
	RequireEmailVerified bool
	Rewrite              []RewriteRule
	// NoSlashBeforeQuery skips the "/api/jobs?x" to "/api/jobs/?x"
	// rewrite for upstreams that route both forms alike.
	NoSlashBeforeQuery bool
	// Timeout overrides the proxy default.
	Timeout time.Duration
}

// Validate checks the route definition.
func (r Route) Validate() error {
	var errs []error
	if r.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if r.Service == "" {
		errs = append(errs, errors.New("service is required"))
	}

	set := 0
	for _, s := range []string{r.Match.Exact, r.Match.Prefix, r.Match.Regex} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		errs = append(errs, errors.New("exactly one of exact, prefix or regex is required"))
	}

	switch r.Auth {
	case "", AuthRequired, AuthOptional, AuthNone:
	default:
		errs = append(errs, fmt.Errorf("unknown auth mode %q", r.Auth))
	}
	if r.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// CompiledRoute is a route prepared for matching.
type CompiledRoute struct {
	Route
	matcher  PathMatcher
	methods  map[string]struct{}
	rewriter *proxy.Rewriter
	priority int
	order    int
}

// Prefix returns the static path prefix used by the rewriter.
func (cr *CompiledRoute) Prefix() string {
	return cr.matcher.Static()
}

// Requirement returns the authorization requirement for method.
func (cr *CompiledRoute) Requirement(method string) authz.Requirement {
	roles := cr.Roles
	if mr, ok := cr.MethodRoles[strings.ToUpper(method)]; ok {
		roles = mr
	}
	return authz.Requirement{
		Roles:                roles,
		RequireEmailVerified: cr.RequireEmailVerified,
	}
}

// AuthFor returns the effective auth mode for method. Optional routes
// become required when the method carries a role list or the route is
// gated on email verification.
func (cr *CompiledRoute) AuthFor(method string) AuthMode {
	mode := cr.Auth
	if mode == "" {
		mode = AuthRequired
	}
	if mode == AuthOptional {
		req := cr.Requirement(method)
		if len(req.Roles) > 0 || req.RequireEmailVerified {
			return AuthRequired
		}
	}
	return mode
}

func (cr *CompiledRoute) allows(method string) bool {
	if len(cr.methods) == 0 {
		return true
	}
	_, ok := cr.methods[method]
	return ok
}

func compile(r Route, order int) (*CompiledRoute, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("route %s: %w", r.Name, err)
	}

	var (
		m   PathMatcher
		err error
	)
	switch {
	case r.Match.Exact != "":
		m, err = newExactMatcher(r.Match.Exact)
	case r.Match.Prefix != "":
		m, err = newPrefixMatcher(r.Match.Prefix)
	default:
		m, err = newRegexMatcher(r.Match.Regex)
	}
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", r.Name, err)
	}

	rules := make([]proxy.Rule, 0, len(r.Rewrite))
	for _, rr := range r.Rewrite {
		rule, err := proxy.NewRule(rr.Pattern, rr.Replacement)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", r.Name, err)
		}
		rules = append(rules, rule)
	}

	cr := &CompiledRoute{
		Route:    r,
		matcher:  m,
		rewriter: proxy.NewRewriter(
			proxy.WithRules(rules...),
			proxy.WithSlashBeforeQuery(!r.NoSlashBeforeQuery),
		),
		priority: m.Priority(),
		order:    order,
	}
	if len(r.Match.Methods) > 0 {
		cr.methods = make(map[string]struct{}, len(r.Match.Methods))
		for _, method := range r.Match.Methods {
			cr.methods[strings.ToUpper(method)] = struct{}{}
		}
		cr.priority += priorityMethodRestriction
	}
	if len(r.MethodRoles) > 0 {
		normalized := make(map[string][]string, len(r.MethodRoles))
		for method, roles := range r.MethodRoles {
			normalized[strings.ToUpper(method)] = roles
		}
		cr.MethodRoles = normalized
	}
	return cr, nil
}
