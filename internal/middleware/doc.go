// Package middleware provides the HTTP middleware chain in front of the
// router: request IDs, panic recovery, access logging, per-client rate
// limiting, security headers, CORS and request body limits. Rejections
// use the gateway's standard error body.
package middleware
