// Package optim implements the parameter updaters of the bilinear model.
//
// This package provides:
//   - Updater interface: base interface for all updaters
//   - Momentum: classical momentum on gradient-ascent deltas
//   - Adam: adaptive moment estimation with bias correction
//
// Deltas are ascent directions (the log-likelihood gradient estimate), so
// every updater adds to the parameters.
//
// Example usage:
//
//	updater := optim.NewMomentum(params.Dims(), optim.MomentumConfig{
//	    Alpha: [3]float64{0.01, 0.01, 0.01},
//	    Mu:    [3]float64{0.9, 0.9, 0.9},
//	})
//
//	delta, _ := gradient.Combine(data, model, prefactor, policy)
//	if err := updater.Step(params, delta); err != nil {
//	    // params and updater state are unchanged
//	}
package optim

import (
	"errors"
	"fmt"

	"github.com/ratsch/bf2/internal/energy"
	"github.com/ratsch/bf2/internal/serialization"
)

// ErrNonFinite reports a step that would produce NaN or infinite values.
var ErrNonFinite = errors.New("non-finite update")

// Updater applies deltas to parameters.
//
// Step is atomic: either every tensor and every piece of updater state is
// updated, or the call returns an error and nothing changes.
type Updater interface {
	// Step applies one delta to p.
	Step(p *energy.Params, delta *energy.Tensors) error

	// Steps returns the number of committed steps.
	Steps() int

	// Name identifies the updater in logs and checkpoints.
	Name() string

	// StateDict returns the updater state as named tensors.
	StateDict() []serialization.Tensor
}

// Frozen selects parameter tensors excluded from updates. A frozen tensor
// keeps both its values and its updater state.
type Frozen struct {
	FixWords     bool // C and V
	FixRelations bool // G
}

// Has reports whether tensor k is frozen.
func (f Frozen) Has(k energy.Kind) bool {
	if k == energy.KindG {
		return f.FixRelations
	}
	return f.FixWords
}

// checkDelta validates a delta before any state is touched.
func checkDelta(p *energy.Params, state, delta *energy.Tensors) error {
	if err := p.CheckShape(delta); err != nil {
		return fmt.Errorf("delta: %w", err)
	}
	if err := p.CheckShape(state); err != nil {
		return fmt.Errorf("updater state: %w", err)
	}
	if !delta.IsFinite() {
		return fmt.Errorf("%w: delta contains NaN or Inf", ErrNonFinite)
	}
	return nil
}

// commit copies staged values in once every tensor has been computed.
func commit(p *energy.Params, params *energy.Tensors, state []*energy.Tensors, staged []*energy.Tensors) error {
	if !params.IsFinite() {
		return fmt.Errorf("%w: parameters would contain NaN or Inf", ErrNonFinite)
	}
	for _, s := range staged {
		if !s.IsFinite() {
			return fmt.Errorf("%w: updater state would contain NaN or Inf", ErrNonFinite)
		}
	}
	for i := range state {
		state[i].CopyFrom(staged[i])
	}
	p.CopyFrom(params)
	return nil
}
