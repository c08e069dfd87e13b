package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-labs/struggle/pkg/models"
)

func TestCacheKey_StableForSameInputs(t *testing.T) {
	a := CacheKey("prompt", "haiku", 0.234)
	b := CacheKey("prompt", "haiku", 0.239)
	assert.Equal(t, a, b, "temperature buckets to one decimal place")
}

func TestCacheKey_DiffersOnPromptOrModel(t *testing.T) {
	base := CacheKey("prompt", "haiku", 0.2)
	assert.NotEqual(t, base, CacheKey("other prompt", "haiku", 0.2))
	assert.NotEqual(t, base, CacheKey("prompt", "sonnet", 0.2))
	assert.NotEqual(t, base, CacheKey("prompt", "haiku", 0.5))
}

func TestLocalCache_PutThenGet(t *testing.T) {
	c, err := NewLocalCache(10)
	require.NoError(t, err)

	entry := models.CacheEntry{CreatedAt: time.Now(), Response: "cached answer", TTL: time.Minute}
	require.NoError(t, c.Put(context.Background(), "key1", entry))

	got, ok, err := c.Get(context.Background(), "key1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cached answer", got.Response)
}

func TestLocalCache_ExpiredEntryIsMiss(t *testing.T) {
	c, err := NewLocalCache(10)
	require.NoError(t, err)

	entry := models.CacheEntry{CreatedAt: time.Now().Add(-time.Hour), Response: "stale", TTL: time.Minute}
	require.NoError(t, c.Put(context.Background(), "key1", entry))

	_, ok, err := c.Get(context.Background(), "key1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalCache_MissReturnsZeroValue(t *testing.T) {
	c, err := NewLocalCache(10)
	require.NoError(t, err)

	got, ok, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.CacheEntry{}, got)
}

func TestTieredCache_LocalOnlyWhenDistributedNil(t *testing.T) {
	local, err := NewLocalCache(10)
	require.NoError(t, err)
	tc := &TieredCache{Local: local}

	entry := models.CacheEntry{CreatedAt: time.Now(), Response: "tiered answer", TTL: time.Minute}
	require.NoError(t, tc.Put(context.Background(), "key1", entry))

	got, ok, err := tc.Get(context.Background(), "key1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tiered answer", got.Response)
}

func TestTieredCache_Stats_ReflectsConfiguredTiers(t *testing.T) {
	local, err := NewLocalCache(10)
	require.NoError(t, err)
	tc := &TieredCache{Local: local}

	stats := tc.Stats()
	assert.Equal(t, false, stats["distributed_enabled"])
	assert.Equal(t, true, stats["local_enabled"])
	assert.Equal(t, 0, stats["local_size"])
}

func TestTieredCache_Get_MissWhenNoTiersConfigured(t *testing.T) {
	tc := &TieredCache{}
	got, ok, err := tc.Get(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.CacheEntry{}, got)
}
