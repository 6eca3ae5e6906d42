// Package gateway assembles the API gateway from its configuration.
//
// New wires the identity pipeline, the route table, service discovery and
// the proxy into one gin engine wrapped by the HTTP middleware chain.
// Start opens the listener and background workers; Stop drains readiness,
// shuts the listener down and releases every owned resource, including
// the identity cache.
package gateway
