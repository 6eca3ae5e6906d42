package jwt

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Claims are the access token claims issued by the auth service.
type Claims struct {
	gojwt.RegisteredClaims

	// LegacyID carries the subject on tokens issued before "sub" was used.
	LegacyID LooseString `json:"id,omitempty"`
	Email    string      `json:"email,omitempty"`
	Role     string      `json:"role,omitempty"`
	// Version is the user's token version at issue time.
	Version *int `json:"version,omitempty"`
}

// SubjectID returns "sub", falling back to the legacy "id" claim.
func (c *Claims) SubjectID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return string(c.LegacyID)
}

// Meta returns the token metadata kept for the request.
func (c *Claims) Meta() Meta {
	m := Meta{JTI: c.ID}
	if c.IssuedAt != nil {
		m.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		m.ExpiresAt = c.ExpiresAt.Time
	}
	return m
}

// Meta is the {jti, iat, exp} triple kept alongside a verified identity.
type Meta struct {
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// LooseString accepts a JSON string or number.
type LooseString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *LooseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = LooseString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*s = LooseString(n.String())
	return nil
}
