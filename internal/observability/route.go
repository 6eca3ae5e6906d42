package observability

import "context"

type routeKey struct{}

// RouteTag carries the matched route name back to outer middleware.
type RouteTag struct {
	Name string
}

// ContextWithRouteTag returns ctx with an empty RouteTag attached.
func ContextWithRouteTag(ctx context.Context) (context.Context, *RouteTag) {
	tag := &RouteTag{}
	return context.WithValue(ctx, routeKey{}, tag), tag
}

// SetRoute records the matched route on the tag in ctx, if any.
func SetRoute(ctx context.Context, name string) {
	if tag, ok := ctx.Value(routeKey{}).(*RouteTag); ok {
		tag.Name = name
	}
}
