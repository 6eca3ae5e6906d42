package jwt

import (
	"errors"
	"fmt"
	"time"
)

// Default values.
const (
	DefaultAlgorithm = "HS256"
	DefaultClockSkew = 0 * time.Second
)

var supportedAlgorithms = map[string]bool{
	"HS256": true,
	"HS384": true,
	"HS512": true,
}

// Config configures token verification.
type Config struct {
	// Secret is the HMAC key the auth service signs access tokens with.
	Secret string
	// Issuer, when set, must equal the iss claim.
	Issuer string
	// Audience, when set, must appear in the aud claim.
	Audience string
	// Algorithms lists the accepted alg header values.
	Algorithms []string
	// ClockSkew is the leeway applied to exp, nbf and iat.
	ClockSkew time.Duration
	// RequireExpiry rejects tokens without an exp claim.
	RequireExpiry bool
}

// DefaultConfig returns a config accepting HS256 only.
func DefaultConfig() Config {
	return Config{
		Algorithms: []string{DefaultAlgorithm},
		ClockSkew:  DefaultClockSkew,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ClockSkew < 0 {
		return errors.New("clock skew must not be negative")
	}
	for _, alg := range c.Algorithms {
		if !supportedAlgorithms[alg] {
			return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
		}
	}
	return nil
}

func (c *Config) algorithms() []string {
	if len(c.Algorithms) == 0 {
		return []string{DefaultAlgorithm}
	}
	return c.Algorithms
}
