// Package trust signs verified identities for downstream services.
//
// The gateway serializes a fixed projection of the identity to canonical
// JSON, signs it with HMAC-SHA256 under a key shared with every service and
// forwards payload, source marker and hex signature as headers. Services
// recompute the HMAC over the received payload and reject on mismatch.
package trust

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kelmah/apigateway/internal/identity"
)

// Header names and values.
const (
	HeaderUser      = "X-Authenticated-User"
	HeaderSource    = "X-Auth-Source"
	HeaderSignature = "X-Gateway-Signature"
	HeaderInternal  = "X-Internal-Request"

	SourceGateway = "api-gateway"
	InternalValue = "true"
)

// Verification errors.
var (
	ErrMissingHeaders    = errors.New("identity headers missing")
	ErrUntrustedSource   = errors.New("identity source is not the gateway")
	ErrSignatureMismatch = errors.New("identity signature mismatch")
)

// Payload is the identity projection carried downstream. Field order is
// the serialization order.
type Payload struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	Role            string `json:"role"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	IsEmailVerified bool   `json:"isEmailVerified"`
	TokenVersion    int    `json:"tokenVersion"`
}

// PayloadOf projects an identity.
func PayloadOf(u identity.Identity) Payload {
	return Payload{
		ID:              u.ID,
		Email:           u.Email,
		Role:            u.Role,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		IsEmailVerified: u.IsEmailVerified,
		TokenVersion:    u.TokenVersion,
	}
}

// Canonical returns the canonical JSON encoding of p: fixed key order, no
// insignificant whitespace, no HTML escaping.
func Canonical(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("failed to encode identity: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Signer computes identity signatures.
type Signer struct {
	key []byte
}

// NewSigner creates a Signer keyed by internalKey, falling back to
// jwtSecret when internalKey is empty. If both are empty the signer still
// signs, with an empty key; callers can detect this with KeyConfigured.
func NewSigner(internalKey, jwtSecret string) *Signer {
	key := internalKey
	if key == "" {
		key = jwtSecret
	}
	return &Signer{key: []byte(key)}
}

// KeyConfigured reports whether a non-empty key is in use.
func (s *Signer) KeyConfigured() bool {
	return len(s.key) > 0
}

// Sign returns the hex HMAC-SHA256 of payload.
func (s *Signer) Sign(payload []byte) string {
	return hex.EncodeToString(mac(s.key, payload))
}

// Attach sets the signed identity headers on h, replacing any values a
// caller may have supplied.
func (s *Signer) Attach(h http.Header, u identity.Identity) error {
	payload, err := Canonical(PayloadOf(u))
	if err != nil {
		return err
	}
	h.Set(HeaderUser, string(payload))
	h.Set(HeaderSource, SourceGateway)
	h.Set(HeaderSignature, s.Sign(payload))
	return nil
}

// Strip removes identity headers, used for anonymous forwards so a caller
// cannot smuggle its own.
func Strip(h http.Header) {
	h.Del(HeaderUser)
	h.Del(HeaderSource)
	h.Del(HeaderSignature)
}

// Verify checks headers produced by Attach and returns the payload.
func Verify(h http.Header, key []byte) (Payload, error) {
	raw := h.Get(HeaderUser)
	sig := h.Get(HeaderSignature)
	if raw == "" || sig == "" {
		return Payload{}, ErrMissingHeaders
	}
	if h.Get(HeaderSource) != SourceGateway {
		return Payload{}, ErrUntrustedSource
	}

	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(got, mac(key, []byte(raw))) {
		return Payload{}, ErrSignatureMismatch
	}

	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, fmt.Errorf("failed to decode identity: %w", err)
	}
	return p, nil
}

func mac(key, payload []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(payload)
	return m.Sum(nil)
}
