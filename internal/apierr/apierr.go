// Package apierr defines the closed set of errors the gateway surfaces to
// callers and renders them in the {success, message, code} envelope.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the taxonomy bucket of an Error.
type Kind int

const (
	// KindClient errors are caused by the caller and are never retried.
	KindClient Kind = iota + 1
	// KindServer errors are gateway-side failures, logged and surfaced as 500.
	KindServer
	// KindUpstream errors describe a backend that could not be reached.
	KindUpstream
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindServer:
		return "server"
	case KindUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Code is the machine-readable error code in the response body.
type Code string

// Error codes.
const (
	CodeNoToken                 Code = "NO_TOKEN"
	CodeInvalidToken            Code = "INVALID_TOKEN"
	CodeTokenExpired            Code = "TOKEN_EXPIRED"
	CodeInvalidTokenPayload     Code = "INVALID_TOKEN_PAYLOAD"
	CodeTokenInvalidated        Code = "TOKEN_INVALIDATED"
	CodeUserNotFound            Code = "USER_NOT_FOUND"
	CodeAuthRequired            Code = "AUTH_REQUIRED"
	CodeInsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"
	CodeAccountDeactivated      Code = "ACCOUNT_DEACTIVATED"
	CodeEmailNotVerified        Code = "EMAIL_NOT_VERIFIED"
	CodeRateLimited             Code = "RATE_LIMITED"
	CodeRouteNotFound           Code = "NOT_FOUND"
	CodePayloadTooLarge         Code = "PAYLOAD_TOO_LARGE"
	CodeBadRequest              Code = "BAD_REQUEST"
	CodeAuthDBError             Code = "AUTH_DB_ERROR"
	CodeAuthInternalError       Code = "AUTH_INTERNAL_ERROR"
	CodeInternalError           Code = "INTERNAL_ERROR"
	CodeServiceUnavailable      Code = "SERVICE_UNAVAILABLE"
	CodeUpstreamTimeout         Code = "UPSTREAM_TIMEOUT"
)

// Error is a tagged gateway error.
type Error struct {
	Kind    Kind
	Code    Code
	Status  int
	Message string
	Cause   error

	// RequiredRoles and UserRole are reported on role failures.
	RequiredRoles []string
	UserRole      string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same kind and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Kind == e.Kind
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// Sentinel values for errors.Is matching. Constructors below return fresh
// copies so callers can attach causes without mutating these.
var (
	ErrNoToken                 = &Error{Kind: KindClient, Code: CodeNoToken, Status: http.StatusUnauthorized, Message: "Access token required"}
	ErrInvalidToken            = &Error{Kind: KindClient, Code: CodeInvalidToken, Status: http.StatusUnauthorized, Message: "Invalid access token"}
	ErrTokenExpired            = &Error{Kind: KindClient, Code: CodeTokenExpired, Status: http.StatusUnauthorized, Message: "Access token expired"}
	ErrInvalidTokenPayload     = &Error{Kind: KindClient, Code: CodeInvalidTokenPayload, Status: http.StatusUnauthorized, Message: "Invalid token payload"}
	ErrTokenInvalidated        = &Error{Kind: KindClient, Code: CodeTokenInvalidated, Status: http.StatusUnauthorized, Message: "Token has been invalidated"}
	ErrUserNotFound            = &Error{Kind: KindClient, Code: CodeUserNotFound, Status: http.StatusUnauthorized, Message: "User not found"}
	ErrAuthRequired            = &Error{Kind: KindClient, Code: CodeAuthRequired, Status: http.StatusUnauthorized, Message: "Authentication required"}
	ErrInsufficientPermissions = &Error{Kind: KindClient, Code: CodeInsufficientPermissions, Status: http.StatusForbidden, Message: "Insufficient permissions"}
	ErrAccountDeactivated      = &Error{Kind: KindClient, Code: CodeAccountDeactivated, Status: http.StatusForbidden, Message: "Account has been deactivated"}
	ErrEmailNotVerified        = &Error{Kind: KindClient, Code: CodeEmailNotVerified, Status: http.StatusForbidden, Message: "Email verification required"}
	ErrRateLimited             = &Error{Kind: KindClient, Code: CodeRateLimited, Status: http.StatusTooManyRequests, Message: "Too many requests"}
	ErrRouteNotFound           = &Error{Kind: KindClient, Code: CodeRouteNotFound, Status: http.StatusNotFound, Message: "Route not found"}
	ErrPayloadTooLarge         = &Error{Kind: KindClient, Code: CodePayloadTooLarge, Status: http.StatusRequestEntityTooLarge, Message: "Request body too large"}
	ErrBadRequest              = &Error{Kind: KindClient, Code: CodeBadRequest, Status: http.StatusBadRequest, Message: "Malformed request body"}
	ErrAuthDB                  = &Error{Kind: KindServer, Code: CodeAuthDBError, Status: http.StatusInternalServerError, Message: "Authentication lookup failed"}
	ErrAuthInternal            = &Error{Kind: KindServer, Code: CodeAuthInternalError, Status: http.StatusInternalServerError, Message: "Authentication failed"}
	ErrInternal                = &Error{Kind: KindServer, Code: CodeInternalError, Status: http.StatusInternalServerError, Message: "Internal server error"}
	ErrServiceUnavailable      = &Error{Kind: KindUpstream, Code: CodeServiceUnavailable, Status: http.StatusServiceUnavailable, Message: "Service unavailable"}
	ErrUpstreamTimeout         = &Error{Kind: KindUpstream, Code: CodeUpstreamTimeout, Status: http.StatusInternalServerError, Message: "Upstream request timed out"}
	ErrUpstreamFailure         = &Error{Kind: KindUpstream, Code: CodeInternalError, Status: http.StatusInternalServerError, Message: "Internal server error"}
)

// NoToken reports a missing or malformed Authorization header.
func NoToken() *Error { return ErrNoToken.WithCause(nil) }

// InvalidToken reports a token that failed verification.
func InvalidToken(cause error) *Error { return ErrInvalidToken.WithCause(cause) }

// TokenExpired reports a token past its exp claim.
func TokenExpired(cause error) *Error { return ErrTokenExpired.WithCause(cause) }

// InvalidTokenPayload reports a verified token with no subject.
func InvalidTokenPayload() *Error { return ErrInvalidTokenPayload.WithCause(nil) }

// TokenInvalidated reports a token version older than the user's.
func TokenInvalidated() *Error { return ErrTokenInvalidated.WithCause(nil) }

// UserNotFound reports a subject with no user record.
func UserNotFound() *Error { return ErrUserNotFound.WithCause(nil) }

// AuthRequired reports a protected route reached without identity.
func AuthRequired() *Error { return ErrAuthRequired.WithCause(nil) }

// InsufficientPermissions reports a role outside the allowed set.
func InsufficientPermissions(required []string, role string) *Error {
	e := ErrInsufficientPermissions.WithCause(nil)
	e.RequiredRoles = append([]string(nil), required...)
	e.UserRole = role
	return e
}

// AccountDeactivated reports an inactive user record.
func AccountDeactivated() *Error { return ErrAccountDeactivated.WithCause(nil) }

// EmailNotVerified reports an unverified identity on a gated route.
func EmailNotVerified() *Error { return ErrEmailNotVerified.WithCause(nil) }

// RateLimited reports a throttled caller.
func RateLimited() *Error { return ErrRateLimited.WithCause(nil) }

// RouteNotFound reports a path with no registered route.
func RouteNotFound() *Error { return ErrRouteNotFound.WithCause(nil) }

// PayloadTooLarge reports a request body over the configured limit.
func PayloadTooLarge() *Error { return ErrPayloadTooLarge.WithCause(nil) }

// BadRequest reports an unreadable request body.
func BadRequest(cause error) *Error { return ErrBadRequest.WithCause(cause) }

// AuthDBError reports a user datastore failure.
func AuthDBError(cause error) *Error { return ErrAuthDB.WithCause(cause) }

// AuthInternalError reports an unexpected authentication failure.
func AuthInternalError(cause error) *Error { return ErrAuthInternal.WithCause(cause) }

// ServiceUnavailable reports an unreachable upstream.
func ServiceUnavailable(cause error) *Error { return ErrServiceUnavailable.WithCause(cause) }

// UpstreamTimeout reports an upstream call that exceeded its deadline.
func UpstreamTimeout(cause error) *Error { return ErrUpstreamTimeout.WithCause(cause) }

// UpstreamFailure reports any other transport failure.
func UpstreamFailure(cause error) *Error { return ErrUpstreamFailure.WithCause(cause) }

// From converts err to an *Error, mapping unknown errors to ErrInternal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.WithCause(err)
}

// Body is the JSON error envelope.
type Body struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	Code          Code     `json:"code"`
	ShouldRefresh bool     `json:"shouldRefresh,omitempty"`
	RequiredRoles []string `json:"requiredRoles,omitempty"`
	UserRole      string   `json:"userRole,omitempty"`
}

// BodyOf builds the response envelope for e.
func BodyOf(e *Error) Body {
	return Body{
		Message:       e.Message,
		Code:          e.Code,
		ShouldRefresh: e.Code == CodeTokenExpired,
		RequiredRoles: e.RequiredRoles,
		UserRole:      e.UserRole,
	}
}

// Write renders err as a JSON error response.
func Write(w http.ResponseWriter, err error) {
	e := From(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(BodyOf(e))
}
