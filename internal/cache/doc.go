// Package cache provides a small thread-safe LRU map.
//
// It holds compiled shader modules keyed by source fingerprint so that
// saving an unchanged file, or reverting to a recent version, skips the
// compiler.
//
//	c := cache.New[string, int](64)
//	c.Set("key", 42)
//	v, ok := c.Get("key")
package cache
