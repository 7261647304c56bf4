package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "supportstack:inbound:abc-123", dedupKey("abc-123"))
}

func TestNewRedisDedupStore_DefaultTTL(t *testing.T) {
	store := NewRedisDedupStore(nil, 0).(*redisDedupStore)

	assert.Equal(t, DefaultDedupTTL, store.ttl)
}

func TestNewRedisDedupStore_CustomTTL(t *testing.T) {
	store := NewRedisDedupStore(nil, time.Hour).(*redisDedupStore)

	assert.Equal(t, time.Hour, store.ttl)
}

func TestNoopDedupStore_AlwaysFirstSeen(t *testing.T) {
	store := NewNoopDedupStore()

	first, err := store.MarkSeen(context.Background(), "id")
	require.NoError(t, err)
	second, err := store.MarkSeen(context.Background(), "id")
	require.NoError(t, err)

	assert.True(t, first)
	assert.True(t, second)
	assert.NoError(t, store.Forget(context.Background(), "id"))
}
