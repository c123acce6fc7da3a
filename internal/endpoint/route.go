package endpoint

import "sync"

// Route is one physical route registration produced during composition. It
// carries the ordered metadata collection that conventions append to; the
// routing facility itself has no metadata concept, so the composer's request
// handlers consult the Route at request time. Conventions may keep appending
// metadata after the server starts serving, so access is synchronized.
type Route struct {
	pattern string

	mu       sync.RWMutex
	metadata []any
}

func newRoute(pattern string) *Route {
	return &Route{pattern: pattern}
}

// Pattern returns the path this route was registered under.
func (r *Route) Pattern() string { return r.pattern }

// AppendMetadata appends items to the route's metadata collection in order.
func (r *Route) AppendMetadata(items ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata = append(r.metadata, items...)
}

// Metadata returns a snapshot of the route's metadata collection in append
// order.
func (r *Route) Metadata() []any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]any, len(r.metadata))
	copy(out, r.metadata)
	return out
}

// Convention is a callback applied to a single route registration.
type Convention func(*Route)

// Endpoint bundles the physical routes composed for one logical pattern:
// the negotiation route followed by the execution route. The route set is
// fixed at composition; conventions may be added any number of times.
type Endpoint struct {
	pattern string
	routes  []*Route
}

func newEndpoint(pattern string, routes ...*Route) *Endpoint {
	return &Endpoint{pattern: pattern, routes: routes}
}

// Pattern returns the logical endpoint's base pattern.
func (e *Endpoint) Pattern() string { return e.pattern }

// Routes returns the physical routes in registration order.
func (e *Endpoint) Routes() []*Route { return e.routes }

// AddConvention invokes fn once per physical route, in registration order.
// Calling it twice with the same convention applies it twice; conventions
// are never deduplicated.
func (e *Endpoint) AddConvention(fn Convention) *Endpoint {
	for _, r := range e.routes {
		fn(r)
	}
	return e
}
