package router

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kelmah/apigateway/internal/apierr"
)

// Router holds the route table.
type Router struct {
	mu     sync.RWMutex
	routes []*CompiledRoute
	names  map[string]*CompiledRoute
}

// Result is a successful match.
type Result struct {
	Route  *CompiledRoute
	Params map[string]string
}

// New creates an empty router.
func New() *Router {
	return &Router{names: make(map[string]*CompiledRoute)}
}

// Add compiles and registers a route.
func (r *Router) Add(route Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[route.Name]; exists {
		return fmt.Errorf("duplicate route name: %s", route.Name)
	}
	cr, err := compile(route, len(r.routes))
	if err != nil {
		return err
	}

	r.routes = append(r.routes, cr)
	r.names[route.Name] = cr
	sortRoutes(r.routes)
	return nil
}

// Load replaces the whole table. On error the previous table is kept.
func (r *Router) Load(routes []Route) error {
	compiled := make([]*CompiledRoute, 0, len(routes))
	names := make(map[string]*CompiledRoute, len(routes))
	for i, route := range routes {
		if _, exists := names[route.Name]; exists {
			return fmt.Errorf("duplicate route name: %s", route.Name)
		}
		cr, err := compile(route, i)
		if err != nil {
			return err
		}
		compiled = append(compiled, cr)
		names[route.Name] = cr
	}
	sortRoutes(compiled)

	r.mu.Lock()
	r.routes = compiled
	r.names = names
	r.mu.Unlock()
	return nil
}

// Match returns the first route matching method and path.
func (r *Router) Match(method, path string) (*Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cr := range r.routes {
		if !cr.allows(method) {
			continue
		}
		if ok, params := cr.matcher.Match(path); ok {
			return &Result{Route: cr, Params: params}, nil
		}
	}
	return nil, apierr.RouteNotFound()
}

// Get returns a route by name.
func (r *Router) Get(name string) (*CompiledRoute, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cr, ok := r.names[name]
	return cr, ok
}

// Routes returns the routes in match order.
func (r *Router) Routes() []*CompiledRoute {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*CompiledRoute, len(r.routes))
	copy(out, r.routes)
	return out
}

func sortRoutes(routes []*CompiledRoute) {
	sort.SliceStable(routes, func(i, j int) bool {
		if routes[i].priority != routes[j].priority {
			return routes[i].priority > routes[j].priority
		}
		return routes[i].order < routes[j].order
	})
}
