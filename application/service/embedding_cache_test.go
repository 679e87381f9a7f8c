package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmbeddingCache_GetPut(t *testing.T) {
	c := NewEmbeddingCache()

	_, ok := c.Get("cat")
	assert.False(t, ok)

	c.Put("cat", []float32{1, 2, 3})
	vec, ok := c.Get("cat")
	assert.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, vec)

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(1), c.Hits())
	assert.Equal(t, int64(1), c.Misses())
}

func TestEmbeddingCache_Resolve(t *testing.T) {
	c := NewEmbeddingCache()
	c.Put("b", []float32{2})

	found, missing := c.Resolve([]string{"a", "b", "c", "a", "b"})
	assert.Equal(t, map[string][]float32{"b": {2}}, found)
	assert.Equal(t, []string{"a", "c"}, missing, "distinct, first-seen order")
	assert.Equal(t, int64(1), c.Hits())
	assert.Equal(t, int64(2), c.Misses())
}

func TestEmbeddingCache_Concurrent(t *testing.T) {
	c := NewEmbeddingCache()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			v := string(rune('a' + i%5))
			if _, ok := c.Get(v); !ok {
				c.Put(v, []float32{float32(i)})
			}
		})
	}
	wg.Wait()
	assert.Equal(t, 5, c.Len())
	assert.Equal(t, int64(50), c.Hits()+c.Misses())
}
