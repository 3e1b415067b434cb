package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memgraph/internal/model"
)

func newTestCache(t *testing.T, ttl time.Duration) *Ristretto {
	t.Helper()
	c, err := New(Options{TTL: ttl, MaxCost: 100}, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestSetGetInvalidate(t *testing.T) {
	c := newTestCache(t, time.Hour)

	c.Set(&model.Memory{ID: "m1", Content: "x", Keywords: []string{"a"}}, c.Generation("m1"))
	c.Wait()

	got, ok := c.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "x", got.Content)

	c.Invalidate("m1")
	_, ok = c.Get("m1")
	assert.False(t, ok)
}

func TestSetAfterInvalidateIsDropped(t *testing.T) {
	c := newTestCache(t, time.Hour)

	gen := c.Generation("m1")
	c.Invalidate("m1")
	c.Set(&model.Memory{ID: "m1", Status: model.StatusActive}, gen)
	c.Wait()

	_, ok := c.Get("m1")
	assert.False(t, ok, "a copy read before the invalidation must not be cached")

	c.Set(&model.Memory{ID: "m1", Status: model.StatusArchived}, c.Generation("m1"))
	c.Wait()
	got, ok := c.Get("m1")
	require.True(t, ok)
	assert.Equal(t, model.StatusArchived, got.Status)
}

func TestGetReturnsCopy(t *testing.T) {
	c := newTestCache(t, time.Hour)
	c.Set(&model.Memory{ID: "m1", Keywords: []string{"a"}}, c.Generation("m1"))
	c.Wait()

	first, ok := c.Get("m1")
	require.True(t, ok)
	first.Keywords[0] = "mutated"
	first.Content = "mutated"

	second, ok := c.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "a", second.Keywords[0])
	assert.Empty(t, second.Content)
}

func TestExpiry(t *testing.T) {
	c := newTestCache(t, 50*time.Millisecond)
	c.Set(&model.Memory{ID: "m1"}, c.Generation("m1"))
	c.Wait()

	time.Sleep(120 * time.Millisecond)
	_, ok := c.Get("m1")
	assert.False(t, ok)
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	c.Set(&model.Memory{ID: "m1"}, c.Generation("m1"))
	_, ok := c.Get("m1")
	assert.False(t, ok)
	c.Invalidate("m1")
}
