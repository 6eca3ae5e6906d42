// Package jwt verifies bearer access tokens issued by the auth service.
//
// Tokens are HMAC-signed (HS256 by default). The Verifier checks the
// signature, the standard exp/nbf/iat claims and, when configured, the
// issuer and audience. The subject is read from "sub" and falls back to
// the legacy "id" claim.
//
//	v, err := jwt.NewVerifier(jwt.Config{Secret: secret, Issuer: "kelmah-auth-service"})
//	if err != nil {
//	    return err
//	}
//	raw, err := jwt.ExtractBearer(r.Header.Get("Authorization"))
//	if err != nil {
//	    // no token
//	}
//	claims, err := v.Verify(raw)
package jwt
