// Package params holds the named float parameters passed to every shader
// through the uniform block.
package params

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/chewxy/math32"
	"github.com/gogpu/liveshader/resource"
)

var (
	// ErrUnknown is returned for a parameter that was never defined.
	ErrUnknown = errors.New("params: unknown parameter")

	// ErrDuplicate is returned when a name is defined twice.
	ErrDuplicate = errors.New("params: duplicate parameter")

	// ErrTooMany is returned when more than resource.MaxParams are defined.
	ErrTooMany = errors.New("params: too many parameters")
)

// Spec declares one parameter. Min == Max means unbounded.
type Spec struct {
	Name    string  `toml:"name" yaml:"name"`
	Default float32 `toml:"default" yaml:"default"`
	Min     float32 `toml:"min" yaml:"min"`
	Max     float32 `toml:"max" yaml:"max"`
}

// Bounded reports whether values are clamped.
func (s Spec) Bounded() bool { return s.Min != s.Max }

func (s Spec) clamp(v float32) float32 {
	if math32.IsNaN(v) {
		return s.Default
	}
	if !s.Bounded() {
		return v
	}
	return math32.Max(s.Min, math32.Min(v, s.Max))
}

// Set is an ordered collection of parameters. Shaders see them as
// frame.params in definition order.
//
// Set is safe for concurrent use.
type Set struct {
	mu     sync.RWMutex
	specs  []Spec
	values []float32
	index  map[string]int
}

// NewSet defines the given parameters in order.
func NewSet(specs ...Spec) (*Set, error) {
	s := &Set{index: make(map[string]int)}
	for _, sp := range specs {
		if err := s.Define(sp); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Define appends a parameter. A reversed range is swapped and the default is
// clamped into it.
func (s *Set) Define(sp Spec) error {
	if sp.Name == "" {
		return errors.New("params: empty name")
	}
	if sp.Min > sp.Max {
		sp.Min, sp.Max = sp.Max, sp.Min
	}
	sp.Default = sp.clamp(sp.Default)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if _, ok := s.index[sp.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, sp.Name)
	}
	if len(s.specs) >= resource.MaxParams {
		return fmt.Errorf("%w: %q exceeds %d", ErrTooMany, sp.Name, resource.MaxParams)
	}
	s.index[sp.Name] = len(s.specs)
	s.specs = append(s.specs, sp)
	s.values = append(s.values, sp.Default)
	return nil
}

// Set stores a value, clamped to the parameter's range, and returns what
// was stored.
func (s *Set) Set(name string, v float32) (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	s.values[i] = s.specs[i].clamp(v)
	return s.values[i], nil
}

// Nudge adds delta to a parameter.
func (s *Set) Nudge(name string, delta float32) (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	s.values[i] = s.specs[i].clamp(s.values[i] + delta)
	return s.values[i], nil
}

// Get returns the current value.
func (s *Set) Get(name string) (float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[name]
	if !ok {
		return 0, false
	}
	return s.values[i], true
}

// Reset restores every default.
func (s *Set) Reset() {
	s.mu.Lock()
	for i, sp := range s.specs {
		s.values[i] = sp.Default
	}
	s.mu.Unlock()
}

// Values returns a copy of the values in definition order.
func (s *Set) Values() []float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.values)
}

// Specs returns the definitions.
func (s *Set) Specs() []Spec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.specs)
}

// Len returns the number of parameters.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.specs)
}
