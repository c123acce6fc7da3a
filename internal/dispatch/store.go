// Package dispatch implements the request-handling delegates behind composed
// endpoints: the negotiate exchange that hands out connection identifiers and
// the execute handshake that establishes a transport and runs the pipeline.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hubwire/hubwire/pkg/config"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionExists   = errors.New("connection already exists")
)

// ConnectionRecord is the negotiated-connection state handed out by the
// negotiation route and claimed by the execution route.
type ConnectionRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record's claim window has passed.
func (r *ConnectionRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ConnectionStore persists negotiated connections between the negotiate and
// execute requests. Implementations must be safe for concurrent use.
type ConnectionStore interface {
	// Put stores a record. Returns ErrConnectionExists on id collision.
	Put(ctx context.Context, rec *ConnectionRecord) error

	// Get retrieves a live record; expired records surface as not found.
	Get(ctx context.Context, id string) (*ConnectionRecord, error)

	// Delete removes a record by id.
	Delete(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}

// NewStore builds the connection store selected by configuration.
func NewStore(cfg *config.Config, logger *zap.Logger) (ConnectionStore, error) {
	switch cfg.ConnectionStore.Type {
	case "memory":
		return NewMemoryStore(logger), nil
	case "redis":
		return NewRedisStore(cfg.ConnectionStore.Redis, logger), nil
	default:
		return nil, fmt.Errorf("unknown connection store type: %s", cfg.ConnectionStore.Type)
	}
}

// MemoryStore is an in-memory connection store for single-node deployments
// and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*ConnectionRecord
	logger  *zap.Logger
}

// NewMemoryStore creates a new in-memory connection store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*ConnectionRecord),
		logger:  logger.Named("memory_store"),
	}
}

func (m *MemoryStore) Put(ctx context.Context, rec *ConnectionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[rec.ID]; ok && !existing.Expired(time.Now()) {
		return ErrConnectionExists
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*ConnectionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok || rec.Expired(time.Now()) {
		return nil, ErrConnectionNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, id)
	return nil
}

// Cleanup removes expired records and returns how many were dropped.
func (m *MemoryStore) Cleanup(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	dropped := 0
	for id, rec := range m.records {
		if rec.Expired(now) {
			delete(m.records, id)
			dropped++
		}
	}
	if dropped > 0 {
		m.logger.Debug("Dropped expired connection records", zap.Int("count", dropped))
	}
	return dropped, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[string]*ConnectionRecord)
	return nil
}
