// Package endpoint composes the route pair exposing one logical realtime
// endpoint: a negotiation route (connection id + transport discovery) and an
// execution route (transport handshake + pipeline execution). Both routes
// share one dispatcher, one options instance, and one built pipeline, and
// are treated as a single unit for route conventions and metadata.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hubwire/hubwire/internal/pipeline"
	"github.com/hubwire/hubwire/internal/transport"
)

// negotiateSuffix is appended to the base pattern for the negotiation route.
const negotiateSuffix = "/negotiate"

// ErrConfiguration is the root of all composition-time failures. Composition
// errors are fatal and surface synchronously, so misconfiguration is caught
// at startup rather than at request time.
var ErrConfiguration = errors.New("invalid endpoint configuration")

// Dispatcher is the external delegate handling requests on composed routes.
// Negotiate serves the connection-id and transport-discovery exchange;
// Execute performs the transport handshake and runs the pipeline, blocking
// for the lifetime of the established connection.
type Dispatcher interface {
	Negotiate(c *gin.Context, opts *Options)
	Execute(c *gin.Context, opts *Options, pipe pipeline.Handler)
}

// ConnectionHandler is the declarative composition unit: a type that
// processes established connections. Implementing Attributed as well lets
// the type declare its authorization requirements and other route metadata.
type ConnectionHandler interface {
	HandleConnection(ctx context.Context, conn transport.Conn) error
}

// AuthorizeFunc enforces a route's authorization requirements against an
// inbound request. It returns false after writing the refusal response.
type AuthorizeFunc func(c *gin.Context, reqs []AuthorizationRequirement) bool

// Composer registers endpoint route pairs against a gin router. Composition
// mutates the route table and the composer's pattern set; it must not run
// concurrently for the same composer.
type Composer struct {
	router     gin.IRouter
	dispatcher Dispatcher
	authorize  AuthorizeFunc
	logger     *zap.Logger
	patterns   map[string]struct{}
}

// NewComposer creates a composer over the given router and dispatcher.
// authorize may be nil, in which case declared requirements are metadata
// only and nothing is enforced.
func NewComposer(router gin.IRouter, d Dispatcher, authorize AuthorizeFunc, logger *zap.Logger) *Composer {
	return &Composer{
		router:     router,
		dispatcher: d,
		authorize:  authorize,
		logger:     logger.Named("composer"),
		patterns:   make(map[string]struct{}),
	}
}

// MapConnection composes a logical endpoint with an imperatively configured
// pipeline. configure receives the pipeline builder; the built pipeline is
// shared by every connection the endpoint accepts.
func (c *Composer) MapConnection(pattern string, configure func(*pipeline.Builder), opts ...Option) (*Endpoint, error) {
	o := NewOptions()
	for _, fn := range opts {
		fn(o)
	}

	b := pipeline.NewBuilder()
	if configure != nil {
		configure(b)
	}

	ep, err := c.Compose(pattern, o, b.Build())
	if err != nil {
		return nil, err
	}

	propagateAuthorization(ep, o)
	return ep, nil
}

// MapConnectionHandler composes a logical endpoint around a connection
// handler type. Attributes declared on the handler seed the authorization
// set before any caller option runs, and the full attribute set is attached
// to both routes' metadata after composition.
func (c *Composer) MapConnectionHandler(pattern string, h ConnectionHandler, opts ...Option) (*Endpoint, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: nil connection handler", ErrConfiguration)
	}

	o := NewOptions()
	var attrs []any
	if a, ok := h.(Attributed); ok {
		attrs = a.Attributes()
		o.Authorization = append(o.Authorization, CollectAuthorization(attrs)...)
	}
	for _, fn := range opts {
		fn(o)
	}

	pipe := pipeline.NewBuilder().Run(h.HandleConnection).Build()

	ep, err := c.Compose(pattern, o, pipe)
	if err != nil {
		return nil, err
	}

	propagateAuthorization(ep, o)
	propagateAttributes(ep, attrs)
	return ep, nil
}

// Compose registers the negotiation and execution routes for pattern. The
// registration is atomic from the caller's perspective: every validation
// runs before either route is added, so a failure leaves no partial state.
func (c *Composer) Compose(pattern string, opts *Options, pipe pipeline.Handler) (*Endpoint, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrConfiguration)
	}
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("%w: pattern %q must start with /", ErrConfiguration, pattern)
	}
	if strings.HasSuffix(pattern, "/") {
		return nil, fmt.Errorf("%w: pattern %q must not end with /", ErrConfiguration, pattern)
	}
	if opts == nil {
		return nil, fmt.Errorf("%w: nil options", ErrConfiguration)
	}
	if pipe == nil {
		return nil, fmt.Errorf("%w: nil pipeline", ErrConfiguration)
	}
	for _, k := range opts.Transports {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: unknown transport %q", ErrConfiguration, k)
		}
	}

	negotiatePattern := pattern + negotiateSuffix
	for _, p := range []string{pattern, negotiatePattern} {
		if _, exists := c.patterns[p]; exists {
			return nil, fmt.Errorf("%w: pattern %q already registered", ErrConfiguration, p)
		}
	}

	negotiateRoute := newRoute(negotiatePattern)
	executeRoute := newRoute(pattern)

	c.router.POST(negotiatePattern, c.guarded(negotiateRoute, func(gc *gin.Context) {
		c.dispatcher.Negotiate(gc, opts)
	}))

	execute := c.guarded(executeRoute, func(gc *gin.Context) {
		c.dispatcher.Execute(gc, opts, pipe)
	})
	c.router.GET(pattern, execute)
	c.router.POST(pattern, execute)
	c.router.DELETE(pattern, execute)

	c.patterns[pattern] = struct{}{}
	c.patterns[negotiatePattern] = struct{}{}

	c.logger.Info("Composed connection endpoint",
		zap.String("pattern", pattern),
		zap.String("negotiate", negotiatePattern),
		zap.Int("transports", len(opts.Transports)),
	)

	return newEndpoint(pattern, negotiateRoute, executeRoute), nil
}

// guarded wires request-time authorization in front of a route's handler.
// Requirements are read from the route's metadata on each request, so
// conventions added after composition still take effect.
func (c *Composer) guarded(r *Route, next gin.HandlerFunc) gin.HandlerFunc {
	return func(gc *gin.Context) {
		if c.authorize != nil {
			if !c.authorize(gc, RequirementsOf(r)) {
				return
			}
		}
		next(gc)
	}
}
