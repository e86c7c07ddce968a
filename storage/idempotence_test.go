package storage

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIdempotenceCache(t *testing.T) (*IdempotenceCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache, err := NewIdempotenceCache("redis://"+mr.Addr(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func TestMarkIfAbsentFirstCallReturnsTrue(t *testing.T) {
	cache, _ := newTestIdempotenceCache(t)
	first, err := cache.MarkIfAbsent(t.Context(), "record-1:0")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestMarkIfAbsentSecondCallReturnsFalse(t *testing.T) {
	cache, _ := newTestIdempotenceCache(t)
	_, err := cache.MarkIfAbsent(t.Context(), "record-1:0")
	require.NoError(t, err)

	again, err := cache.MarkIfAbsent(t.Context(), "record-1:0")
	require.NoError(t, err)
	assert.False(t, again)
}

func TestForgetAllowsRemarking(t *testing.T) {
	cache, _ := newTestIdempotenceCache(t)
	_, err := cache.MarkIfAbsent(t.Context(), "flow-1:99")
	require.NoError(t, err)

	require.NoError(t, cache.Forget(t.Context(), "flow-1:99"))

	again, err := cache.MarkIfAbsent(t.Context(), "flow-1:99")
	require.NoError(t, err)
	assert.True(t, again)
}

func TestMarkIfAbsentDistinctKeysAreIndependent(t *testing.T) {
	cache, _ := newTestIdempotenceCache(t)
	a, err := cache.MarkIfAbsent(t.Context(), "flow-1:0")
	require.NoError(t, err)
	b, err := cache.MarkIfAbsent(t.Context(), "flow-2:0")
	require.NoError(t, err)
	assert.True(t, a)
	assert.True(t, b)
}
