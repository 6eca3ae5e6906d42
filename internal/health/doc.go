// Package health serves the gateway's liveness, health and readiness
// endpoints.
//
// /health answers as long as the process runs and keeps the response shape
// the frontend already polls for. /health/ready runs the registered
// dependency checks and reports 503 while a critical dependency is down or
// the gateway is draining.
package health
