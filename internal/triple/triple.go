// Package triple defines the (subject, relation, object) unit of data
// and the sources that produce it.
//
// Entities and relations are dense integer indices: subjects and objects
// index into a vocabulary of W entities, relations into a vocabulary of R
// relations. Every triple entering training is bounds checked; an index
// outside its vocabulary is an error, never wrapped or clamped.
package triple

import (
	"errors"
	"fmt"
)

// ErrVocabulary is returned when a triple index falls outside its vocabulary.
var ErrVocabulary = errors.New("triple index out of vocabulary")

// Triple is a single relational fact.
type Triple struct {
	S int // Subject entity index in [0, W)
	R int // Relation index in [0, R)
	T int // Object (target) entity index in [0, W)
}

// Axis names one slot of a triple.
type Axis int

// Triple axes.
const (
	Subject Axis = iota
	Relation
	Object
)

// Axes lists every axis in slot order.
var Axes = [3]Axis{Subject, Relation, Object}

// String implements fmt.Stringer.
func (a Axis) String() string {
	switch a {
	case Subject:
		return "subject"
	case Relation:
		return "relation"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("Axis(%d)", int(a))
	}
}

// Get returns the index held at axis a.
func (t Triple) Get(a Axis) int {
	switch a {
	case Subject:
		return t.S
	case Relation:
		return t.R
	case Object:
		return t.T
	default:
		panic(fmt.Sprintf("triple: invalid axis %d", int(a)))
	}
}

// With returns a copy of t with axis a set to v.
func (t Triple) With(a Axis, v int) Triple {
	switch a {
	case Subject:
		t.S = v
	case Relation:
		t.R = v
	case Object:
		t.T = v
	default:
		panic(fmt.Sprintf("triple: invalid axis %d", int(a)))
	}
	return t
}

// Validate checks t against vocabulary sizes w (entities) and r (relations).
func (t Triple) Validate(w, r int) error {
	if t.S < 0 || t.S >= w {
		return fmt.Errorf("%w: subject %d not in [0, %d)", ErrVocabulary, t.S, w)
	}
	if t.R < 0 || t.R >= r {
		return fmt.Errorf("%w: relation %d not in [0, %d)", ErrVocabulary, t.R, r)
	}
	if t.T < 0 || t.T >= w {
		return fmt.Errorf("%w: object %d not in [0, %d)", ErrVocabulary, t.T, w)
	}
	return nil
}

// String formats t the way triple files store it: "s r t".
func (t Triple) String() string {
	return fmt.Sprintf("%d %d %d", t.S, t.R, t.T)
}
