package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_ExpiresOnClock(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := New[int, string](time.Second, WithClock(func() time.Time { return now }))
	defer c.Stop()

	c.Set(7, "destroyed")
	assert.True(t, c.Contains(7))

	now = now.Add(999 * time.Millisecond)
	v, ok := c.Get(7)
	assert.True(t, ok)
	assert.Equal(t, "destroyed", v)

	now = now.Add(time.Millisecond)
	assert.False(t, c.Contains(7))
}

func TestCache_PurgeAndStats(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := New[string, int](time.Minute, WithClock(func() time.Time { return now }))
	defer c.Stop()

	c.Set("a", 1)
	c.SetWithTTL("b", 2, time.Second)

	now = now.Add(2 * time.Second)
	stats := c.GetStats()
	assert.Equal(t, 2, stats.TotalKeys)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 1, stats.Size)

	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.GetStats().TotalKeys)
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := New[int, bool](time.Minute)
	c.Set(1, true)
	c.Set(2, true)

	c.Delete(1)
	assert.False(t, c.Contains(1))
	assert.True(t, c.Contains(2))

	c.Clear()
	assert.Equal(t, 0, c.GetStats().TotalKeys)

	c.Stop()
	c.Stop()
}

func TestCache_BackgroundCleanup(t *testing.T) {
	c := New[int, bool](10*time.Millisecond, WithCleanupInterval(5*time.Millisecond))
	defer c.Stop()

	c.Set(1, true)
	c.SetWithTTL(2, true, time.Hour)

	assert.Eventually(t, func() bool {
		return c.GetStats().TotalKeys == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, c.Contains(2))
}
