package endpoint

import (
	"github.com/hubwire/hubwire/internal/transport"
)

// Options holds the dispatch configuration shared by the negotiation and
// execution routes of one logical endpoint. It is mutated only during
// composition; afterwards both route handlers read it concurrently without
// synchronization.
type Options struct {
	// Authorization is the ordered requirement set for the endpoint. It is
	// seeded from a handler type's declared attributes when one drives
	// composition, then extended by caller options. Never deduplicated.
	Authorization []AuthorizationRequirement

	// Transports narrows which wire transports the dispatcher offers for
	// this endpoint. The negotiation route advertises exactly this set (
	// intersected with the server-wide enabled set), and the execution
	// route accepts no others.
	Transports []transport.Kind
}

// NewOptions returns Options offering every transport and no authorization
// requirements.
func NewOptions() *Options {
	return &Options{Transports: transport.Kinds()}
}

// AllowsTransport reports whether the endpoint offers the given transport.
func (o *Options) AllowsTransport(k transport.Kind) bool {
	for _, allowed := range o.Transports {
		if allowed == k {
			return true
		}
	}
	return false
}

// Option mutates Options during composition.
type Option func(*Options)

// WithAuthorization appends authorization requirements to the endpoint.
func WithAuthorization(reqs ...AuthorizationRequirement) Option {
	return func(o *Options) {
		o.Authorization = append(o.Authorization, reqs...)
	}
}

// WithTransports restricts the endpoint to the given transports.
func WithTransports(kinds ...transport.Kind) Option {
	return func(o *Options) {
		o.Transports = kinds
	}
}
