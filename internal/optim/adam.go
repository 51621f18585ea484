package optim

import (
	"math"

	"github.com/ratsch/bf2/internal/energy"
	"github.com/ratsch/bf2/internal/serialization"
)

// Adam implements adaptive moment estimation on ascent deltas.
//
// Update rule, for each tensor X in (C, G, V):
//
//	m_t = mu * m_{t-1} + (1-mu) * delta        // First moment
//	v_t = nu * v_{t-1} + (1-nu) * delta²       // Second moment
//	m_hat = m_t / (1 - mu^t)                   // Bias correction
//	v_hat = v_t / (1 - nu^t)                   // Bias correction
//	X = X + alpha * m_hat / (sqrt(v_hat) + eps)
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	cfg   AdamConfig
	m     *energy.Tensors // First moment estimates
	v     *energy.Tensors // Second moment estimates
	steps int             // Timestep for bias correction
}

// AdamConfig holds configuration for the Adam updater.
// Alpha, Mu and Nu are indexed by energy.Kind (C, G, V).
type AdamConfig struct {
	Alpha [3]float64 // Step sizes
	Mu    [3]float64 // First moment decay
	Nu    [3]float64 // Second moment decay
	Eps   float64    // Term for numerical stability (default: 1e-8)
	Frozen
}

var _ Updater = (*Adam)(nil)

// NewAdam creates an Adam updater with zero moments.
func NewAdam(dims energy.Dims, cfg AdamConfig) *Adam {
	if cfg.Eps == 0 {
		cfg.Eps = 1e-8
	}
	return &Adam{
		cfg: cfg,
		m:   energy.NewTensors(dims),
		v:   energy.NewTensors(dims),
	}
}

// Step applies the Adam update atomically.
func (a *Adam) Step(p *energy.Params, delta *energy.Tensors) error {
	if err := checkDelta(p, a.m, delta); err != nil {
		return err
	}

	t := float64(a.steps + 1)
	m1, m2 := a.m.Clone(), a.v.Clone()
	params := p.Tensors.Clone()
	for _, k := range energy.Kinds {
		if a.cfg.Has(k) {
			continue
		}
		alpha, mu, nu := a.cfg.Alpha[k], a.cfg.Mu[k], a.cfg.Nu[k]
		biasCorrection1 := 1 - math.Pow(mu, t)
		biasCorrection2 := 1 - math.Pow(nu, t)

		mb, vb, db, xb := m1.Blocks(k), m2.Blocks(k), delta.Blocks(k), params.Blocks(k)
		for i := range xb {
			mData, vData, dData, xData := mb[i], vb[i], db[i], xb[i]
			for j, g := range dData {
				mData[j] = mu*mData[j] + (1-mu)*g
				vData[j] = nu*vData[j] + (1-nu)*g*g

				mHat := mData[j] / biasCorrection1
				vHat := vData[j] / biasCorrection2
				xData[j] += alpha * mHat / (math.Sqrt(vHat) + a.cfg.Eps)
			}
		}
	}

	if err := commit(p, params, []*energy.Tensors{a.m, a.v}, []*energy.Tensors{m1, m2}); err != nil {
		return err
	}
	a.steps++
	return nil
}

// Steps returns the number of committed steps.
func (a *Adam) Steps() int {
	return a.steps
}

// Name implements Updater.
func (a *Adam) Name() string {
	return "adam"
}

// StateDict returns the moments as "moment1.*" and "moment2.*".
func (a *Adam) StateDict() []serialization.Tensor {
	return append(a.m.StateDict("moment1."), a.v.StateDict("moment2.")...)
}
