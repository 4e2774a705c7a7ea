package shader

import (
	"github.com/gogpu/liveshader/internal/cache"
)

type cacheKey struct {
	path        string
	stage       Stage
	fingerprint [32]byte
}

// CachingCompiler remembers successful compiles by path, stage and source
// fingerprint. Failures are not cached.
type CachingCompiler struct {
	next    Compiler
	modules *cache.LRU[cacheKey, *Module]
}

// NewCachingCompiler wraps next with an LRU of the given size.
func NewCachingCompiler(next Compiler, size int) *CachingCompiler {
	return &CachingCompiler{next: next, modules: cache.New[cacheKey, *Module](size)}
}

// Compile returns the cached module for src, compiling it on a miss.
func (c *CachingCompiler) Compile(src Source) (*Module, error) {
	key := cacheKey{path: src.Path, stage: src.Stage, fingerprint: src.Fingerprint}
	if m, ok := c.modules.Get(key); ok {
		return m, nil
	}
	m, err := c.next.Compile(src)
	if err != nil {
		return nil, err
	}
	c.modules.Set(key, m)
	return m, nil
}

// Hits returns how many compiles were served from the cache.
func (c *CachingCompiler) Hits() uint64 { return c.modules.Stats().Hits }
