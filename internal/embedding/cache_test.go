package embedding

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingModel struct {
	dim int
}

func (m *countingModel) Dimension() int { return m.dim }

func (m *countingModel) Embed(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, m.dim)
	}
	return out
}

func TestCacheLoadsOnce(t *testing.T) {
	var loads atomic.Int64
	cache := NewCache(func(modelName, cacheDir string) (Model, error) {
		loads.Add(1)
		time.Sleep(10 * time.Millisecond) // widen the race window
		return &countingModel{dim: 8}, nil
	})

	var wg sync.WaitGroup
	handles := make([]Model, 16)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := cache.Get("model-a", "/tmp/cache")
			assert.NoError(t, err)
			handles[i] = m
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), loads.Load())
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
}

func TestCacheKeysByModelAndDirectory(t *testing.T) {
	var loads atomic.Int64
	cache := NewCache(func(modelName, cacheDir string) (Model, error) {
		loads.Add(1)
		return &countingModel{dim: 8}, nil
	})

	a1, err := cache.Get("model-a", "/one")
	require.NoError(t, err)
	a2, err := cache.Get("model-a", "/two")
	require.NoError(t, err)
	b, err := cache.Get("model-b", "/one")
	require.NoError(t, err)

	assert.Equal(t, int64(3), loads.Load())
	assert.NotSame(t, a1, a2)
	assert.NotSame(t, a1, b)
}

func TestCacheLoaderFailureIsNotCached(t *testing.T) {
	var loads atomic.Int64
	cache := NewCache(func(modelName, cacheDir string) (Model, error) {
		if loads.Add(1) == 1 {
			return nil, errors.New("download interrupted")
		}
		return &countingModel{dim: 8}, nil
	})

	_, err := cache.Get("model-a", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model-a")

	m, err := cache.Get("model-a", "")
	require.NoError(t, err)
	assert.Equal(t, 8, m.Dimension())
}
