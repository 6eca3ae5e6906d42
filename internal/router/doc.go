// Package router binds request paths to backend services.
//
// A route names a service, an authentication mode and the roles allowed
// to call it. Routes are ordered by specificity: exact paths first, then
// parameterized paths, then prefixes (longest first), then regular
// expressions. Routes of equal specificity keep registration order.
//
// Handler composes the request pipeline: match, authenticate, authorize,
// resolve the service through discovery and hand the request to the proxy.
// A request rejected before the last step never reaches an upstream.
package router
