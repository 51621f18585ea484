package triple

import "io"

// Source produces triples one at a time.
//
// Next returns io.EOF once the source is exhausted. Streaming readers and
// in-memory slices both satisfy Source, so the training loop does not care
// whether data is read online or materialized up front.
type Source interface {
	Next() (Triple, error)
}

// Materialized is implemented by sources that hold all of their triples in
// memory. The trainer uses it for full-data log-likelihood diagnostics.
type Materialized interface {
	All() []Triple
}

// SliceSource serves triples from a slice.
type SliceSource struct {
	triples []Triple
	pos     int
}

// NewSliceSource returns a Source over ts. The slice is not copied.
func NewSliceSource(ts []Triple) *SliceSource {
	return &SliceSource{triples: ts}
}

// Next implements Source.
func (s *SliceSource) Next() (Triple, error) {
	if s.pos >= len(s.triples) {
		return Triple{}, io.EOF
	}
	t := s.triples[s.pos]
	s.pos++
	return t, nil
}

// All implements Materialized.
func (s *SliceSource) All() []Triple {
	return s.triples
}

// Reset rewinds the source to the first triple.
func (s *SliceSource) Reset() {
	s.pos = 0
}

// Set is an insertion-ordered set of unique triples.
//
// Iteration order is the order of first insertion, which keeps reductions
// over the set (mean energies, file output) deterministic.
type Set struct {
	index map[Triple]int
	items []Triple
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{index: make(map[Triple]int)}
}

// Add inserts t and reports whether it was new.
func (s *Set) Add(t Triple) bool {
	if _, ok := s.index[t]; ok {
		return false
	}
	s.index[t] = len(s.items)
	s.items = append(s.items, t)
	return true
}

// Contains reports whether t is in the set.
func (s *Set) Contains(t Triple) bool {
	_, ok := s.index[t]
	return ok
}

// Len returns the number of unique triples.
func (s *Set) Len() int {
	return len(s.items)
}

// Items returns the triples in insertion order. The caller must not modify it.
func (s *Set) Items() []Triple {
	return s.items
}
