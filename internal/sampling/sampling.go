// Package sampling draws triples from a bilinear energy model.
//
// Gibbs sweeps resample one slot at a time from its exact conditional
// softmax(-E) given the other two slots; Noise draws uniform triples.
package sampling

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/ratsch/bf2/internal/energy"
	"github.com/ratsch/bf2/internal/triple"
)

// ErrDegenerate reports a conditional distribution that cannot be
// normalised (a zero, NaN or infinite normaliser).
var ErrDegenerate = errors.New("degenerate distribution")

// Softmax converts negative energies (logits) to probabilities.
//
// The maximum is subtracted before exponentiation, so equal logits give a
// uniform distribution whatever their magnitude. Entries equal to -Inf get
// probability zero.
func Softmax(logits []float64) ([]float64, error) {
	if len(logits) == 0 {
		return nil, fmt.Errorf("%w: empty support", ErrDegenerate)
	}
	maxVal := floats.Max(logits)
	if math.IsNaN(maxVal) || math.IsInf(maxVal, 0) {
		return nil, fmt.Errorf("%w: max logit is %v", ErrDegenerate, maxVal)
	}

	probs := make([]float64, len(logits))
	for i, v := range logits {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("%w: logit %d is NaN", ErrDegenerate, i)
		}
		probs[i] = math.Exp(v - maxVal)
	}

	sum := floats.Sum(probs)
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("%w: normaliser is %v", ErrDegenerate, sum)
	}
	floats.Scale(1/sum, probs)
	return probs, nil
}

// Categorical draws an index with probability proportional to
// exp(logits[i]).
func Categorical(logits []float64, rng *rand.Rand) (int, error) {
	probs, err := Softmax(logits)
	if err != nil {
		return 0, err
	}
	return multinomial(probs, rng), nil
}

// multinomial samples from normalised probabilities.
func multinomial(probs []float64, rng *rand.Rand) int {
	r := rng.Float64()

	cumSum := 0.0
	for i, p := range probs {
		cumSum += p
		if r < cumSum {
			return i
		}
	}

	// Rounding left r above the final cumulative sum; return the last
	// index with non-zero mass.
	for i := len(probs) - 1; i > 0; i-- {
		if probs[i] > 0 {
			return i
		}
	}
	return 0
}

// Noise returns count independent triples with uniform coordinates.
func Noise(w, r, count int, rng *rand.Rand) []triple.Triple {
	out := make([]triple.Triple, count)
	for i := range out {
		out[i] = triple.Triple{S: rng.Intn(w), R: rng.Intn(r), T: rng.Intn(w)}
	}
	return out
}

// Gibbs runs single-site Gibbs sweeps over a model.
//
// A Gibbs sampler is not safe for concurrent use: it owns its random
// source.
type Gibbs struct {
	model energy.Model
	rng   *rand.Rand
}

// NewGibbs returns a sampler over m drawing from rng.
func NewGibbs(m energy.Model, rng *rand.Rand) *Gibbs {
	return &Gibbs{model: m, rng: rng}
}

// Draw resamples one slot of t from its conditional given the other two.
func (g *Gibbs) Draw(t triple.Triple, axis triple.Axis) (triple.Triple, error) {
	logits := g.model.AxisEnergy(t, axis)
	floats.Scale(-1, logits)

	i, err := Categorical(logits, g.rng)
	if err != nil {
		return t, fmt.Errorf("drawing %s of %v: %w", axis, t, err)
	}
	return t.With(axis, i), nil
}

// Sample runs k sweeps from seed and returns the final state.
//
// Each sweep visits the three axes in a fresh random order, and every
// draw conditions on the triple as updated by the draws before it.
func (g *Gibbs) Sample(seed triple.Triple, k int) (triple.Triple, error) {
	current := seed
	for sweep := 0; sweep < k; sweep++ {
		for _, a := range g.rng.Perm(len(triple.Axes)) {
			next, err := g.Draw(current, triple.Axes[a])
			if err != nil {
				return seed, err
			}
			current = next
		}
	}
	return current, nil
}

// Chains advances every chain k sweeps in place, in order.
// On error the chains are left as they were before the call.
func (g *Gibbs) Chains(chains []triple.Triple, k int) error {
	next := make([]triple.Triple, len(chains))
	for i, seed := range chains {
		t, err := g.Sample(seed, k)
		if err != nil {
			return fmt.Errorf("chain %d: %w", i, err)
		}
		next[i] = t
	}
	copy(chains, next)
	return nil
}
