package cache

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheBasics(t *testing.T) {
	t.Parallel()

	c, err := New[int, string](64, Hash[int])
	require.NoError(t, err)

	// Test cache miss
	_, hit := c.Get(1)
	assert.False(t, hit, "Expected cache miss for key 1")

	c.Put(1, "one")
	v, hit := c.Get(1)
	assert.True(t, hit, "Expected cache hit for key 1")
	assert.Equal(t, "one", v)
	assert.Equal(t, 1, c.Size())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)

	c.Purge()
	assert.Zero(t, c.Size())
	_, hit = c.Get(1)
	assert.False(t, hit)
}

func TestCacheEvicts(t *testing.T) {
	t.Parallel()

	c, err := New[int, int](MinCacheSize, Hash[int])
	require.NoError(t, err)

	for i := range 10 * MinCacheSize {
		c.Put(i, i)
	}
	assert.LessOrEqual(t, c.Size(), 2*MinCacheSize)
	assert.NotZero(t, c.Stats().Evictions)
}

func TestCacheConcurrent(t *testing.T) {
	t.Parallel()

	c, err := New[string, int](1024, Hash[string])
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				k := fmt.Sprintf("k%d", i)
				c.Put(k, i)
				if v, ok := c.Get(k); ok {
					assert.Equal(t, i, v, "writer %d", w)
				}
			}
		}()
	}
	wg.Wait()
}

type celsius float64

func TestHash(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Hash(42), Hash(42))
	assert.NotEqual(t, Hash(1), Hash(2))
	assert.Equal(t, Hash("abc"), Hash("abc"))
	assert.NotEqual(t, Hash("abc"), Hash("abd"))
	assert.Equal(t, Hash(0.0), Hash(math.Copysign(0, -1)))
	assert.Equal(t, Hash(celsius(21.5)), Hash(21.5), "named types hash by kind")
	assert.Equal(t, Hash(int8(-3)), Hash(-3))
	assert.Equal(t, Hash(float32(0.5)), Hash(0.5))
}

func TestEntriesClamped(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(MinCacheSize), entries(0))
	assert.Equal(t, uint32(1000), entries(1000))
	assert.Equal(t, uint32(MaxCacheSize), entries(math.MaxInt))
}
