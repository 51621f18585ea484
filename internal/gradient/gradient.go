// Package gradient estimates the log-likelihood gradient of the bilinear
// energy model.
//
// The gradient of Σ log p(x) over a batch is a data term (the summed
// negative energy gradients of the batch) minus a model term (the same
// quantity in expectation under the model). The model term is computed
// exactly by enumerating every triple, or approximated from samples.
package gradient

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/ratsch/bf2/internal/energy"
	"github.com/ratsch/bf2/internal/parallel"
	"github.com/ratsch/bf2/internal/triple"
)

// Batch returns Σ -dE(x) over ts, scattered into parameter-shaped tensors.
//
// Per-triple gradients are evaluated in parallel; the scatter-add runs in
// batch order so the result does not depend on the worker split.
func Batch(m energy.Model, ts []triple.Triple) *energy.Tensors {
	out := energy.NewTensors(m.Dims())
	for _, g := range m.Gradients(ts) {
		scatter(out, g, -1)
	}
	return out
}

// scatter adds alpha*g into the rows of out the triple touches.
func scatter(out *energy.Tensors, g energy.Gradient, alpha float64) {
	t := g.Triple
	floats.AddScaled(out.C.RawRowView(t.S), alpha, g.C.RawVector().Data)
	floats.AddScaled(out.G[t.R].RawMatrix().Data, alpha, g.G.RawMatrix().Data)
	floats.AddScaled(out.V.RawRowView(t.T), alpha, g.V.RawVector().Data)
}

// Partition returns the exact model expectation Σ p(x) (-dE(x)) over the
// whole W x R x W space, with p(x) = exp(-E(x)) / Z.
//
// Subjects are split into chunks reduced concurrently; the per-chunk
// accumulators are summed in chunk order, so the result is deterministic
// for a given parallel configuration. The cost is O(W²R) gradient
// evaluations: only tractable for small vocabularies.
func Partition(ctx context.Context, m energy.Model, par parallel.Config) (*energy.Tensors, error) {
	dims := m.Dims()
	negE := energy.NegEnergyTable(m)
	logZ := floats.LogSumExp(negE)
	if math.IsNaN(logZ) || math.IsInf(logZ, 0) {
		return nil, fmt.Errorf("%w: log partition function is %v", energy.ErrNumerical, logZ)
	}

	chunks := parallel.Chunks(dims.W, parallel.Config{
		Enabled:      par.Enabled,
		NumWorkers:   par.NumWorkers,
		MinChunkSize: 1,
	})
	partials := make([]*energy.Tensors, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	for i, c := range chunks {
		g.Go(func() error {
			acc := energy.NewTensors(dims)
			for s := c.Start; s < c.End; s++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				for r := 0; r < dims.R; r++ {
					for t := 0; t < dims.W; t++ {
						p := math.Exp(negE[(s*dims.R+r)*dims.W+t] - logZ)
						scatter(acc, m.Gradient(triple.Triple{S: s, R: r, T: t}), -p)
					}
				}
			}
			if !acc.IsFinite() {
				return fmt.Errorf("%w: partition gradient for subjects [%d, %d)", energy.ErrNumerical, c.Start, c.End)
			}
			partials[i] = acc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := energy.NewTensors(dims)
	for _, acc := range partials {
		out.AddScaled(1, acc)
	}
	return out, nil
}

// Policy selects the structural constraints applied to a combined delta.
type Policy struct {
	// ZeroRelationGradient zeroes the whole relation delta, freezing G.
	ZeroRelationGradient bool

	// PinRelationBias zeroes the last column of every relation delta,
	// keeping the translation part of G[r] fixed.
	PinRelationBias bool
}

// Prefactor returns the weight of the model term: the batch size in exact
// mode, batch size over sample count otherwise.
func Prefactor(exact bool, batchSize, numSamples int) float64 {
	if exact {
		return float64(batchSize)
	}
	return float64(batchSize) / float64(numSamples)
}

// Combine returns delta = data - prefactor*model with the structural
// constraints reapplied: the homogeneous column of dC and dV is zero and
// the last row of every dG[r] is zero.
func Combine(data, model *energy.Tensors, prefactor float64, policy Policy) (*energy.Tensors, error) {
	if err := data.CheckShape(model); err != nil {
		return nil, err
	}

	delta := data.Clone()
	delta.AddScaled(-prefactor, model)

	dims := delta.Dims()
	last := dims.D - 1
	for i := 0; i < dims.W; i++ {
		delta.C.Set(i, last, 0)
		delta.V.Set(i, last, 0)
	}
	zeros := make([]float64, dims.D)
	for _, g := range delta.G {
		switch {
		case policy.ZeroRelationGradient:
			g.Zero()
		case policy.PinRelationBias:
			g.SetCol(last, zeros)
			g.SetRow(last, zeros)
		default:
			g.SetRow(last, zeros)
		}
	}
	return delta, nil
}
