package cache

import (
	"strconv"
	"sync"
	"testing"
)

func TestLRUGetSet(t *testing.T) {
	c := New[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v, want 1, true", v, ok)
	}
	// b is now the oldest.
	c.Set("c", 3)
	if _, ok := c.Get("b"); ok {
		t.Error("Get(b) found an evicted entry")
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Errorf("Get(c) = %d, %v, want 3, true", v, ok)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}

	st := c.Stats()
	if st.Hits != 2 || st.Misses != 1 || st.Evictions != 1 {
		t.Errorf("Stats() = %+v, want 2 hits, 1 miss, 1 eviction", st)
	}
}

func TestLRUOverwrite(t *testing.T) {
	c := New[int, string](2)
	c.Set(1, "x")
	c.Set(2, "y")
	c.Set(1, "z")
	c.Set(3, "w")

	if v, _ := c.Get(1); v != "z" {
		t.Errorf("Get(1) = %q, want z", v)
	}
	if _, ok := c.Get(2); ok {
		t.Error("overwrite did not refresh recency")
	}
}

func TestLRUDelete(t *testing.T) {
	c := New[int, int](0)
	c.Set(1, 1)
	if !c.Delete(1) {
		t.Error("Delete(1) = false")
	}
	if c.Delete(1) {
		t.Error("second Delete(1) = true")
	}
	c.Set(2, 2)
	if v, ok := c.Get(2); !ok || v != 2 {
		t.Errorf("Get(2) = %d, %v after delete", v, ok)
	}
}

func TestLRUConcurrent(t *testing.T) {
	c := New[string, int](16)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				k := strconv.Itoa((g + i) % 32)
				c.Set(k, i)
				c.Get(k)
			}
		}()
	}
	wg.Wait()
	if c.Len() > 16 {
		t.Errorf("Len() = %d, exceeds capacity", c.Len())
	}
}

func BenchmarkLRUGet(b *testing.B) {
	c := New[string, int](128)
	for i := range 100 {
		c.Set(strconv.Itoa(i), i)
	}
	b.ResetTimer()
	for range b.N {
		c.Get("50")
	}
}
