package utils

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c, err := NewCache[uint, string](2, time.Minute, clock)
	require.NoError(t, err)

	c.Set(1, "one")
	v, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "one", v)

	clock.Advance(2 * time.Minute)
	_, ok = c.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCacheEvictionAndDelete(t *testing.T) {
	c, err := NewCache[uint, int](2, time.Hour, nil)
	require.NoError(t, err)

	c.Set(1, 1)
	c.Set(2, 2)
	c.Set(3, 3)
	_, ok := c.Get(1)
	assert.False(t, ok, "least recently used entry is evicted")

	c.Delete(2)
	_, ok = c.Get(2)
	assert.False(t, ok)
	v, ok := c.Get(3)
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestCacheSetSinceSkipsStaleFill(t *testing.T) {
	c, err := NewCache[uint, string](4, time.Hour, nil)
	require.NoError(t, err)

	// 读开始后 key 被删除：回填旧值被拒绝
	since := c.Version()
	c.Delete(1)
	assert.False(t, c.SetSince(1, "stale", since))
	_, ok := c.Get(1)
	assert.False(t, ok)

	// 其他 key 的删除不影响
	assert.True(t, c.SetSince(2, "two", since))

	// 删除之后开始的读可以回填
	assert.True(t, c.SetSince(1, "fresh", c.Version()))
	v, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "fresh", v)
}

func TestCacheSetSinceAfterDeleteLogOverflow(t *testing.T) {
	c, err := NewCache[uint, int](2, time.Hour, nil)
	require.NoError(t, err)

	since := c.Version()
	for k := uint(10); k < 13; k++ {
		c.Delete(k)
	}
	// 删除记录被截断后无法确认，保守地不写
	assert.False(t, c.SetSince(1, 1, since))
	assert.True(t, c.SetSince(1, 1, c.Version()))
}
