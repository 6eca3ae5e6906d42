// Package auth turns an Authorization header into a resolved identity.
package auth

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kelmah/apigateway/internal/apierr"
	"github.com/kelmah/apigateway/internal/auth/jwt"
	"github.com/kelmah/apigateway/internal/identity"
	"github.com/kelmah/apigateway/internal/observability"
)

// RequestContext is the per-request authentication state. It is created
// when a request enters the gateway and discarded with the response.
type RequestContext struct {
	User  *identity.Identity
	Token string
	Meta  jwt.Meta
}

// Authenticated reports whether an identity was resolved.
func (rc *RequestContext) Authenticated() bool {
	return rc != nil && rc.User != nil
}

type ctxKey struct{}

// WithRequestContext stores rc in ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext returns the RequestContext stored in ctx, if any.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(*RequestContext)
	return rc, ok && rc != nil
}

// TokenVerifier verifies raw bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*jwt.Claims, error)
}

// IdentityResolver hydrates a subject id.
type IdentityResolver interface {
	Resolve(ctx context.Context, id string) (identity.Identity, error)
}

// Authenticator verifies tokens and resolves identities.
type Authenticator struct {
	verifier      TokenVerifier
	resolver      IdentityResolver
	accountChecks bool
	logger        observability.Logger
	outcomes      *prometheus.CounterVec
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithAccountChecks toggles the active-account and token-version checks.
func WithAccountChecks(enabled bool) Option {
	return func(a *Authenticator) {
		a.accountChecks = enabled
	}
}

// WithRegisterer registers outcome metrics on reg.
func WithRegisterer(namespace string, reg prometheus.Registerer) Option {
	return func(a *Authenticator) {
		a.outcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "attempts_total",
				Help:      "Authentication attempts by outcome code",
			},
			[]string{"code"},
		)
		reg.MustRegister(a.outcomes)
	}
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(verifier TokenVerifier, resolver IdentityResolver, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:      verifier,
		resolver:      resolver,
		accountChecks: true,
		logger:        observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate resolves the identity behind an Authorization header value.
// Every failure is an *apierr.Error.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*RequestContext, error) {
	rc, err := a.authenticate(ctx, header)
	a.record(err)
	if err != nil {
		e := apierr.From(err)
		if e.Kind == apierr.KindServer {
			a.logger.WithContext(ctx).Error("authentication failed",
				observability.String("code", string(e.Code)),
				observability.Error(e.Cause))
		}
		return nil, e
	}
	return rc, nil
}

func (a *Authenticator) authenticate(ctx context.Context, header string) (*RequestContext, error) {
	token, err := jwt.ExtractBearer(header)
	if err != nil {
		return nil, apierr.NoToken()
	}

	claims, err := a.verifier.Verify(token)
	switch {
	case err == nil:
	case jwt.IsExpiredError(err):
		return nil, apierr.TokenExpired(err)
	case errors.Is(err, jwt.ErrMissingSubject):
		return nil, apierr.InvalidTokenPayload()
	default:
		return nil, apierr.InvalidToken(err)
	}

	u, err := a.resolver.Resolve(ctx, claims.SubjectID())
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrUserNotFound):
		return nil, apierr.UserNotFound()
	case errors.Is(err, identity.ErrDatastore):
		return nil, apierr.AuthDBError(err)
	default:
		return nil, apierr.AuthInternalError(err)
	}

	if a.accountChecks {
		if !u.IsActive {
			return nil, apierr.AccountDeactivated()
		}
		if claims.Version != nil && *claims.Version != u.TokenVersion {
			return nil, apierr.TokenInvalidated()
		}
	}

	return &RequestContext{User: &u, Token: token, Meta: claims.Meta()}, nil
}

func (a *Authenticator) record(err error) {
	if a.outcomes == nil {
		return
	}
	code := "OK"
	if err != nil {
		code = string(apierr.From(err).Code)
	}
	a.outcomes.WithLabelValues(code).Inc()
}
