package optim

import (
	"gonum.org/v1/gonum/floats"

	"github.com/ratsch/bf2/internal/energy"
	"github.com/ratsch/bf2/internal/serialization"
)

// Momentum implements classical momentum with per-tensor hyperparameters.
//
// Update rule, for each tensor X in (C, G, V):
//
//	velocity = mu * velocity + (1 - mu) * delta
//	X = X + alpha * velocity
//
// Velocities start at zero and are never reset.
//
// Example:
//
//	updater := optim.NewMomentum(params.Dims(), optim.MomentumConfig{
//	    Alpha: [3]float64{0.01, 0.01, 0.01},
//	    Mu:    [3]float64{0.9, 0.9, 0.9},
//	})
type Momentum struct {
	cfg   MomentumConfig
	vel   *energy.Tensors
	steps int
}

// MomentumConfig holds configuration for the Momentum updater.
// Alpha and Mu are indexed by energy.Kind (C, G, V).
type MomentumConfig struct {
	Alpha [3]float64 // Step sizes
	Mu    [3]float64 // Velocity decay, in [0, 1)
	Frozen
}

var _ Updater = (*Momentum)(nil)

// NewMomentum creates a Momentum updater with zero velocities.
func NewMomentum(dims energy.Dims, cfg MomentumConfig) *Momentum {
	return &Momentum{cfg: cfg, vel: energy.NewTensors(dims)}
}

// Step applies the momentum update atomically.
func (m *Momentum) Step(p *energy.Params, delta *energy.Tensors) error {
	if err := checkDelta(p, m.vel, delta); err != nil {
		return err
	}

	vel := m.vel.Clone()
	params := p.Tensors.Clone()
	for _, k := range energy.Kinds {
		if m.cfg.Has(k) {
			continue
		}
		alpha, mu := m.cfg.Alpha[k], m.cfg.Mu[k]
		v, d, x := vel.Blocks(k), delta.Blocks(k), params.Blocks(k)
		for i := range v {
			floats.Scale(mu, v[i])
			floats.AddScaled(v[i], 1-mu, d[i])
			floats.AddScaled(x[i], alpha, v[i])
		}
	}

	if err := commit(p, params, []*energy.Tensors{m.vel}, []*energy.Tensors{vel}); err != nil {
		return err
	}
	m.steps++
	return nil
}

// Velocity returns the current velocities. The result must not be modified.
func (m *Momentum) Velocity() *energy.Tensors {
	return m.vel
}

// Steps returns the number of committed steps.
func (m *Momentum) Steps() int {
	return m.steps
}

// Name implements Updater.
func (m *Momentum) Name() string {
	return "momentum"
}

// StateDict returns the velocities as "velocity.C", "velocity.G" and
// "velocity.V".
func (m *Momentum) StateDict() []serialization.Tensor {
	return m.vel.StateDict("velocity.")
}
