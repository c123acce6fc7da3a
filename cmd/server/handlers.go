package main

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/hubwire/hubwire/internal/endpoint"
	"github.com/hubwire/hubwire/internal/pipeline"
	"github.com/hubwire/hubwire/internal/transport"
)

// echo copies inbound frames back to the sender until the connection ends.
func echo(ctx context.Context, conn transport.Conn) error {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if _, err := conn.Write(buf[:n]); err != nil {
			return err
		}
	}
}

// connectionLogging logs connection open and close around the next stage.
func connectionLogging(logger *zap.Logger) pipeline.Stage {
	log := logger.Named("connections")
	return func(next pipeline.Handler) pipeline.Handler {
		return func(ctx context.Context, conn transport.Conn) error {
			log.Info("Connection opened",
				zap.String("connection_id", conn.ConnectionID()),
				zap.String("transport", string(conn.Kind())),
			)
			err := next(ctx, conn)
			log.Info("Connection finished",
				zap.String("connection_id", conn.ConnectionID()),
				zap.Error(err),
			)
			return err
		}
	}
}

// chatHandler broadcasts every inbound frame to all connected clients. Its
// declared attributes require an authenticated caller on both routes of the
// /chat endpoint.
type chatHandler struct {
	logger *zap.Logger

	mu    sync.RWMutex
	conns map[string]transport.Conn
}

func newChatHandler(logger *zap.Logger) *chatHandler {
	return &chatHandler{
		logger: logger.Named("chat"),
		conns:  make(map[string]transport.Conn),
	}
}

func (h *chatHandler) Attributes() []any {
	return []any{endpoint.RequireAuthenticated{}}
}

func (h *chatHandler) HandleConnection(ctx context.Context, conn transport.Conn) error {
	id := conn.ConnectionID()

	h.mu.Lock()
	h.conns[id] = conn
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, id)
		h.mu.Unlock()
	}()

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		h.broadcast(id, buf[:n])
	}
}

// broadcast fans a frame out to every other connected client.
func (h *chatHandler) broadcast(sender string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, conn := range h.conns {
		if id == sender {
			continue
		}
		if _, err := conn.Write(frame); err != nil {
			h.logger.Warn("Broadcast write failed",
				zap.String("connection_id", id),
				zap.Error(err),
			)
		}
	}
}
