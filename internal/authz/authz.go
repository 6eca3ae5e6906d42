// Package authz gates routes on the role of a resolved identity.
package authz

import (
	"context"
	"slices"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kelmah/apigateway/internal/apierr"
	"github.com/kelmah/apigateway/internal/identity"
	"github.com/kelmah/apigateway/internal/observability"
)

// Requirement is what a route demands of the caller.
type Requirement struct {
	// Roles lists the accepted roles. Empty accepts any authenticated caller.
	Roles []string
	// RequireEmailVerified rejects identities with an unverified email.
	RequireEmailVerified bool
}

// Authorizer checks identities against route requirements. It never
// mutates the identity.
type Authorizer struct {
	logger    observability.Logger
	decisions *prometheus.CounterVec
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Authorizer) {
		a.logger = logger
	}
}

// WithRegisterer registers decision metrics on reg.
func WithRegisterer(namespace string, reg prometheus.Registerer) Option {
	return func(a *Authorizer) {
		a.decisions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "decisions_total",
				Help:      "Route authorization decisions",
			},
			[]string{"decision", "reason"},
		)
		reg.MustRegister(a.decisions)
	}
}

// New creates an Authorizer.
func New(opts ...Option) *Authorizer {
	a := &Authorizer{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize returns nil when u satisfies req. It fails with AuthRequired
// for a nil identity, InsufficientPermissions for a role outside
// req.Roles and EmailNotVerified when verification is required.
func (a *Authorizer) Authorize(ctx context.Context, u *identity.Identity, req Requirement) error {
	if u == nil {
		a.record("deny", "no_identity")
		return apierr.AuthRequired()
	}

	if len(req.Roles) > 0 && !slices.Contains(req.Roles, u.Role) {
		a.record("deny", "role")
		a.logger.WithContext(ctx).Info("access denied",
			observability.String("user_id", u.ID),
			observability.String("role", u.Role),
			observability.Strings("required_roles", req.Roles))
		return apierr.InsufficientPermissions(req.Roles, u.Role)
	}

	if req.RequireEmailVerified && !u.IsEmailVerified {
		a.record("deny", "email_unverified")
		return apierr.EmailNotVerified()
	}

	a.record("allow", "")
	return nil
}

func (a *Authorizer) record(decision, reason string) {
	if a.decisions != nil {
		a.decisions.WithLabelValues(decision, reason).Inc()
	}
}
