package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hubwire/hubwire/internal/endpoint"
	"github.com/hubwire/hubwire/internal/pipeline"
	"github.com/hubwire/hubwire/internal/transport"
	"github.com/hubwire/hubwire/pkg/config"
)

const negotiateVersion = 1

// negotiateResponse is the payload returned by the negotiation route.
type negotiateResponse struct {
	NegotiateVersion    int                  `json:"negotiateVersion"`
	ConnectionID        string               `json:"connectionId"`
	AvailableTransports []availableTransport `json:"availableTransports"`
}

type availableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

// Dispatcher serves the negotiate and execute delegates for every composed
// endpoint. One instance is shared across all endpoints; per-endpoint state
// arrives through the options and pipeline arguments.
type Dispatcher struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    ConnectionStore
	upgrader websocket.Upgrader

	liveMu sync.RWMutex
	live   map[string]transport.Conn // connections reachable by POST delivery
}

// New creates a dispatcher backed by the given connection store.
func New(cfg *config.Config, store ConnectionStore, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		cfg:    cfg,
		logger: logger.Named("dispatcher"),
		store:  store,
		live:   make(map[string]transport.Conn),
	}
	d.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.Transports.ReadBufferSize,
		WriteBufferSize: cfg.Transports.WriteBufferSize,
		CheckOrigin:     d.checkOrigin,
	}
	return d
}

func (d *Dispatcher) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range d.cfg.CORS.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Negotiate hands out a connection id and the transports the endpoint
// offers. The id must be claimed on the execution route before the store
// TTL elapses.
func (d *Dispatcher) Negotiate(c *gin.Context, opts *endpoint.Options) {
	now := time.Now()
	rec := &ConnectionRecord{
		ID:        uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(d.cfg.ConnectionStore.TTL()),
	}

	if err := d.store.Put(c.Request.Context(), rec); err != nil {
		d.logger.Error("Failed to store negotiated connection", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "negotiation failed"})
		return
	}

	offered := d.offeredTransports(opts)
	available := make([]availableTransport, 0, len(offered))
	for _, k := range offered {
		available = append(available, availableTransport{
			Transport:       string(k),
			TransferFormats: k.TransferFormats(),
		})
	}

	d.logger.Debug("Negotiated connection",
		zap.String("connection_id", rec.ID),
		zap.Int("transports", len(available)),
	)

	c.JSON(http.StatusOK, negotiateResponse{
		NegotiateVersion:    negotiateVersion,
		ConnectionID:        rec.ID,
		AvailableTransports: available,
	})
}

// offeredTransports intersects the endpoint's transports with the
// server-wide enabled set, preserving the endpoint's preference order.
func (d *Dispatcher) offeredTransports(opts *endpoint.Options) []transport.Kind {
	enabled := make(map[transport.Kind]bool)
	for _, k := range d.cfg.Transports.EnabledKinds() {
		enabled[k] = true
	}

	var offered []transport.Kind
	for _, k := range opts.Transports {
		if enabled[k] {
			offered = append(offered, k)
		}
	}
	return offered
}

// Execute performs the transport handshake for a negotiated connection and
// runs the endpoint's pipeline over it. For connection-establishing requests
// the call blocks until the pipeline returns; POST requests deliver inbound
// bytes to an already-established connection, DELETE terminates one.
func (d *Dispatcher) Execute(c *gin.Context, opts *endpoint.Options, pipe pipeline.Handler) {
	switch {
	case websocket.IsWebSocketUpgrade(c.Request):
		d.executeWebSocket(c, opts, pipe)
	case c.Request.Method == http.MethodGet:
		if acceptsEventStream(c.Request) {
			d.executeServerSentEvents(c, opts, pipe)
		} else {
			d.executeLongPolling(c, opts, pipe)
		}
	case c.Request.Method == http.MethodPost:
		d.deliver(c)
	case c.Request.Method == http.MethodDelete:
		d.terminate(c)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported request"})
	}
}

func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// claim resolves and consumes the negotiated connection id on the request.
// It returns an empty id after writing the refusal response.
func (d *Dispatcher) claim(c *gin.Context) string {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connection id required"})
		return ""
	}

	if _, err := d.store.Get(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrConnectionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown connection id"})
		} else {
			d.logger.Error("Connection store lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "connection lookup failed"})
		}
		return ""
	}
	return id
}

func (d *Dispatcher) executeWebSocket(c *gin.Context, opts *endpoint.Options, pipe pipeline.Handler) {
	if !d.transportAllowed(c, opts, transport.KindWebSockets) {
		return
	}

	// Websocket clients may skip negotiation; a fresh id is assigned then.
	id := c.Query("id")
	if id == "" {
		id = uuid.NewString()
	} else if id = d.claim(c); id == "" {
		return
	}

	ws, err := d.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		d.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	conn := transport.NewWebSocketConn(id, ws)
	d.logger.Info("Connection established",
		zap.String("connection_id", id),
		zap.String("transport", string(transport.KindWebSockets)),
	)

	d.runPipeline(c.Request.Context(), pipe, conn)
	_ = d.store.Delete(context.Background(), id)
}

func (d *Dispatcher) executeServerSentEvents(c *gin.Context, opts *endpoint.Options, pipe pipeline.Handler) {
	if !d.transportAllowed(c, opts, transport.KindServerSentEvents) {
		return
	}
	id := d.claim(c)
	if id == "" {
		return
	}

	conn, err := transport.NewServerSentEventsConn(id, c.Writer)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d.registerLive(id, conn)
	defer d.unregisterLive(id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	d.logger.Info("Connection established",
		zap.String("connection_id", id),
		zap.String("transport", string(transport.KindServerSentEvents)),
	)

	// The pipeline blocks on inbound reads, which only client delivery or a
	// close unblocks; a client disconnect must close the connection so the
	// handler can exit.
	ctx := c.Request.Context()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	d.runPipeline(ctx, pipe, conn)
	_ = d.store.Delete(context.Background(), id)
}

// executeLongPolling serves one poll. The first poll for a connection id
// establishes the connection and starts its pipeline detached, since the
// connection outlives any single request.
func (d *Dispatcher) executeLongPolling(c *gin.Context, opts *endpoint.Options, pipe pipeline.Handler) {
	if !d.transportAllowed(c, opts, transport.KindLongPolling) {
		return
	}
	id := d.claim(c)
	if id == "" {
		return
	}

	conn := d.longPollingConn(id, pipe)

	frame, err := conn.Poll(c.Request.Context(), d.cfg.Transports.PollTimeout())
	switch {
	case errors.Is(err, transport.ErrConnClosed):
		d.unregisterLive(id)
		_ = d.store.Delete(context.Background(), id)
		c.Status(http.StatusNoContent)
	case err != nil:
		c.Status(http.StatusNoContent)
	case frame == nil:
		c.Status(http.StatusNoContent)
	default:
		c.Data(http.StatusOK, "application/octet-stream", frame)
	}
}

// longPollingConn returns the live long-polling connection for id,
// establishing it on first use.
func (d *Dispatcher) longPollingConn(id string, pipe pipeline.Handler) *transport.LongPollingConn {
	d.liveMu.Lock()
	defer d.liveMu.Unlock()

	if existing, ok := d.live[id]; ok {
		if lp, ok := existing.(*transport.LongPollingConn); ok {
			return lp
		}
	}

	conn := transport.NewLongPollingConn(id)
	d.live[id] = conn

	d.logger.Info("Connection established",
		zap.String("connection_id", id),
		zap.String("transport", string(transport.KindLongPolling)),
	)

	go func() {
		d.runPipeline(context.Background(), pipe, conn)
	}()
	go d.reapWhenIdle(conn)

	return conn
}

// reapWhenIdle tears down a long-polling connection whose client stopped
// polling without sending DELETE. The connection outlives individual
// requests, so client disappearance is only observable as poll silence.
func (d *Dispatcher) reapWhenIdle(conn *transport.LongPollingConn) {
	timeout := d.cfg.Transports.DisconnectTimeout()
	if timeout <= 0 {
		return
	}

	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Done():
			d.unregisterLive(conn.ConnectionID())
			_ = d.store.Delete(context.Background(), conn.ConnectionID())
			return
		case <-ticker.C:
			if conn.Idle(timeout) {
				d.logger.Info("Reaping idle long-polling connection",
					zap.String("connection_id", conn.ConnectionID()),
				)
				d.unregisterLive(conn.ConnectionID())
				_ = conn.Close()
				_ = d.store.Delete(context.Background(), conn.ConnectionID())
				return
			}
		}
	}
}

// deliver routes POSTed bytes into an established SSE or long-polling
// connection's inbound stream.
func (d *Dispatcher) deliver(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connection id required"})
		return
	}

	d.liveMu.RLock()
	conn, ok := d.live[id]
	d.liveMu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active connection"})
		return
	}

	deliverable, ok := conn.(transport.Deliverable)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transport does not accept delivery"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	if err := deliverable.Deliver(body); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection closed"})
		return
	}
	c.Status(http.StatusAccepted)
}

// terminate closes an established connection on the client's request.
func (d *Dispatcher) terminate(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connection id required"})
		return
	}

	d.liveMu.Lock()
	conn, ok := d.live[id]
	delete(d.live, id)
	d.liveMu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active connection"})
		return
	}

	_ = conn.Close()
	_ = d.store.Delete(c.Request.Context(), id)

	d.logger.Info("Connection terminated by client", zap.String("connection_id", id))
	c.Status(http.StatusAccepted)
}

// transportAllowed checks both the endpoint's transport set and the
// server-wide enabled set before a handshake proceeds.
func (d *Dispatcher) transportAllowed(c *gin.Context, opts *endpoint.Options, k transport.Kind) bool {
	if opts.AllowsTransport(k) {
		for _, enabled := range d.cfg.Transports.EnabledKinds() {
			if enabled == k {
				return true
			}
		}
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "transport not available"})
	return false
}

// runPipeline runs the endpoint's pipeline over an established connection
// and closes the connection when it returns. Pipeline faults are logged, not
// swallowed silently; the connection is torn down either way.
func (d *Dispatcher) runPipeline(ctx context.Context, pipe pipeline.Handler, conn transport.Conn) {
	err := pipe(ctx, conn)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
		d.logger.Error("Connection pipeline failed",
			zap.String("connection_id", conn.ConnectionID()),
			zap.String("transport", string(conn.Kind())),
			zap.Error(err),
		)
	} else {
		d.logger.Info("Connection closed",
			zap.String("connection_id", conn.ConnectionID()),
			zap.String("transport", string(conn.Kind())),
		)
	}
	_ = conn.Close()
}

// registerLive exposes a connection for POST delivery and DELETE termination.
func (d *Dispatcher) registerLive(id string, conn transport.Conn) {
	d.liveMu.Lock()
	defer d.liveMu.Unlock()

	// Replace any stale connection under the same id.
	if existing, ok := d.live[id]; ok {
		_ = existing.Close()
	}
	d.live[id] = conn
}

func (d *Dispatcher) unregisterLive(id string) {
	d.liveMu.Lock()
	defer d.liveMu.Unlock()

	delete(d.live, id)
}

// Close terminates every live connection.
func (d *Dispatcher) Close() {
	d.liveMu.Lock()
	defer d.liveMu.Unlock()

	for _, conn := range d.live {
		_ = conn.Close()
	}
	d.live = make(map[string]transport.Conn)
}
