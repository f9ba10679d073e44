package embedding

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Model is a loaded in-process embedding model.
type Model interface {
	// Dimension is the model's native output width.
	Dimension() int
	// Embed computes one vector per text. CPU-bound.
	Embed(texts []string) [][]float32
}

// Loader constructs a model by name. It may block on disk or network work, so
// it must never run on a request's fast path more than once per key.
type Loader func(modelName, cacheDir string) (Model, error)

// Cache caches loaded models keyed by (model name, cache directory).
// Lookups of an already-loaded model take the mutex only briefly; concurrent
// first requests for the same key share a single construction.
type Cache struct {
	loader Loader

	mu     sync.Mutex
	models map[string]Model
	group  singleflight.Group
}

// NewCache creates a cache around the given loader.
func NewCache(loader Loader) *Cache {
	return &Cache{
		loader: loader,
		models: make(map[string]Model),
	}
}

// Get returns the cached model for the key, loading it on first use.
func (c *Cache) Get(modelName, cacheDir string) (Model, error) {
	key := modelName + "\x00" + cacheDir

	c.mu.Lock()
	if m, ok := c.models[key]; ok {
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		m, err := c.loader(modelName, cacheDir)
		if err != nil {
			return nil, fmt.Errorf("load embedding model %q: %w", modelName, err)
		}
		c.mu.Lock()
		c.models[key] = m
		c.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Model), nil
}
