package jwt

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Verifier validates access tokens. It holds no per-request state and is
// safe for concurrent use.
type Verifier struct {
	config  Config
	key     []byte
	parser  *gojwt.Parser
	metrics *Metrics
}

// Option configures a Verifier.
type Option func(*verifierOptions)

type verifierOptions struct {
	now     func() time.Time
	metrics *Metrics
}

// WithClock overrides the time source used for exp/nbf/iat checks.
func WithClock(now func() time.Time) Option {
	return func(o *verifierOptions) {
		o.now = now
	}
}

// WithMetrics records validation outcomes.
func WithMetrics(m *Metrics) Option {
	return func(o *verifierOptions) {
		o.metrics = m
	}
}

// NewVerifier creates a Verifier. An empty secret is accepted; every
// signature check then runs against an empty key.
func NewVerifier(cfg Config, opts ...Option) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid jwt config: %w", err)
	}

	o := verifierOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	parserOpts := []gojwt.ParserOption{
		gojwt.WithValidMethods(cfg.algorithms()),
		gojwt.WithIssuedAt(),
		gojwt.WithLeeway(cfg.ClockSkew),
		gojwt.WithTimeFunc(o.now),
	}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, gojwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, gojwt.WithAudience(cfg.Audience))
	}
	if cfg.RequireExpiry {
		parserOpts = append(parserOpts, gojwt.WithExpirationRequired())
	}

	return &Verifier{
		config:  cfg,
		key:     []byte(cfg.Secret),
		parser:  gojwt.NewParser(parserOpts...),
		metrics: o.metrics,
	}, nil
}

// Verify checks the token and returns its claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	start := time.Now()

	claims, err := v.verify(token)
	v.metrics.RecordValidation(err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (v *Verifier) verify(token string) (*Claims, error) {
	if token == "" {
		return nil, NewValidationError("empty token", ErrTokenMalformed)
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *gojwt.Token) (any, error) {
		if _, ok := t.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	if claims.SubjectID() == "" {
		return nil, NewValidationError("token payload invalid", ErrMissingSubject)
	}
	return claims, nil
}

// classify maps library errors onto the package sentinels. Expiry is
// checked first so an expired token with other defects still reads as
// expired.
func classify(err error) error {
	switch {
	case errors.Is(err, gojwt.ErrTokenExpired):
		return NewValidationError("token expired", ErrTokenExpired)
	case errors.Is(err, gojwt.ErrTokenMalformed):
		return NewValidationError("token malformed", ErrTokenMalformed)
	case errors.Is(err, gojwt.ErrTokenSignatureInvalid):
		return NewValidationError("signature verification failed", ErrTokenInvalidSignature)
	case errors.Is(err, gojwt.ErrTokenNotValidYet), errors.Is(err, gojwt.ErrTokenUsedBeforeIssued):
		return NewValidationError("token not yet valid", ErrTokenNotYetValid)
	case errors.Is(err, gojwt.ErrTokenInvalidIssuer):
		return NewValidationError("issuer mismatch", ErrTokenInvalidIssuer)
	case errors.Is(err, gojwt.ErrTokenInvalidAudience):
		return NewValidationError("audience mismatch", ErrTokenInvalidAudience)
	case errors.Is(err, ErrUnsupportedAlgorithm), errors.Is(err, gojwt.ErrTokenUnverifiable):
		return NewValidationError("token unverifiable", ErrUnsupportedAlgorithm)
	default:
		return NewValidationError("token invalid", err)
	}
}
