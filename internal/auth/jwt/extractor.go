package jwt

import (
	"strings"
)

// BearerPrefix is the required Authorization scheme prefix.
const BearerPrefix = "Bearer "

// ExtractBearer returns the token from an Authorization header value of
// the exact form "Bearer <token>".
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingHeader
	}
	token, ok := strings.CutPrefix(header, BearerPrefix)
	if !ok || token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrInvalidPrefix
	}
	return token, nil
}
