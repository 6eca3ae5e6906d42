// Package proxy forwards authenticated requests to backend services.
//
// Each request walks a fixed sequence of states:
//
//	RECEIVED -> PATH_REWRITTEN -> HEADERS_PREPARED -> [BODY_REHYDRATED]
//	         -> DISPATCHED -> RESPONDED | TIMED_OUT | CONN_REFUSED | FAILED
//
// A request can also end early in REJECTED (a pre-request hook refused it),
// CIRCUIT_OPEN (the service breaker is open) or CANCELED (the client went
// away). Transport failures are mapped onto the gateway error envelope:
// unreachable services answer 503 and timeouts or anything else answer 500.
package proxy
