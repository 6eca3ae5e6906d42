package jwt

import "errors"

// Sentinel errors returned by the extractor and verifier.
var (
	// ErrMissingHeader is returned when the Authorization header is absent.
	ErrMissingHeader = errors.New("authorization header missing")
	// ErrInvalidPrefix is returned when the header is not "Bearer <token>".
	ErrInvalidPrefix = errors.New("authorization header is not a bearer token")
	// ErrTokenMalformed is returned when the token cannot be decoded.
	ErrTokenMalformed = errors.New("token is malformed")
	// ErrTokenExpired is returned when exp lies in the past.
	ErrTokenExpired = errors.New("token has expired")
	// ErrTokenNotYetValid is returned for nbf or iat in the future.
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	// ErrTokenInvalidSignature is returned when signature verification fails.
	ErrTokenInvalidSignature = errors.New("token signature is invalid")
	// ErrTokenInvalidIssuer is returned when iss does not match.
	ErrTokenInvalidIssuer = errors.New("token issuer is invalid")
	// ErrTokenInvalidAudience is returned when aud does not match.
	ErrTokenInvalidAudience = errors.New("token audience is invalid")
	// ErrUnsupportedAlgorithm is returned for an alg outside the allow list.
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	// ErrMissingSubject is returned when neither sub nor id is present.
	ErrMissingSubject = errors.New("token has no subject")
)

// ValidationError describes a rejected token.
type ValidationError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *ValidationError.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{Message: message, Cause: cause}
}

// IsExpiredError reports whether err means the token has expired.
func IsExpiredError(err error) bool {
	return errors.Is(err, ErrTokenExpired)
}
