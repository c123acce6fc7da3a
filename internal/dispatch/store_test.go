package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hubwire/hubwire/pkg/config"
)

func newRecord(id string, ttl time.Duration) *ConnectionRecord {
	now := time.Now()
	return &ConnectionRecord{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestMemoryStore_PutAndGet(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	rec := newRecord("conn-1", time.Hour)
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestMemoryStore_GetExpired(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newRecord("conn-1", -time.Minute)))

	_, err := store.Get(ctx, "conn-1")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestMemoryStore_PutDuplicate(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newRecord("conn-1", time.Hour)))
	assert.ErrorIs(t, store.Put(ctx, newRecord("conn-1", time.Hour)), ErrConnectionExists)
}

func TestMemoryStore_PutReplacesExpired(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newRecord("conn-1", -time.Minute)))
	assert.NoError(t, store.Put(ctx, newRecord("conn-1", time.Hour)))
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newRecord("conn-1", time.Hour)))
	require.NoError(t, store.Delete(ctx, "conn-1"))

	_, err := store.Get(ctx, "conn-1")
	assert.ErrorIs(t, err, ErrConnectionNotFound)

	// Deleting again is idempotent.
	assert.NoError(t, store.Delete(ctx, "conn-1"))
}

func TestMemoryStore_Cleanup(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, newRecord("live", time.Hour)))
	require.NoError(t, store.Put(ctx, newRecord("dead-1", -time.Minute)))
	require.NoError(t, store.Put(ctx, newRecord("dead-2", -time.Minute)))

	dropped, err := store.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)

	_, err = store.Get(ctx, "live")
	assert.NoError(t, err)
}

func TestNewStore_SelectsByType(t *testing.T) {
	logger := zap.NewNop()

	cfg := &config.Config{ConnectionStore: config.ConnectionStoreConfig{Type: "memory"}}
	store, err := NewStore(cfg, logger)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	cfg = &config.Config{ConnectionStore: config.ConnectionStoreConfig{
		Type:  "redis",
		Redis: config.RedisConfig{Address: "localhost:6379"},
	}}
	store, err = NewStore(cfg, logger)
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, store)

	cfg = &config.Config{ConnectionStore: config.ConnectionStoreConfig{Type: "bogus"}}
	_, err = NewStore(cfg, logger)
	assert.Error(t, err)
}
