// Package energy implements the low-rank bilinear energy model over
// (subject, relation, object) triples:
//
//	E(s, r, t) = -V[t] · (G[r] C[s])
//
// Entities carry D = d+1 dimensional embeddings whose last coordinate is a
// constant 1, so G[r] acts as an affine map on the subject embedding.
package energy

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ratsch/bf2/internal/parallel"
	"github.com/ratsch/bf2/internal/triple"
)

// Model evaluates energies and their parameter gradients.
//
// Implementations must be safe for concurrent reads: batched methods may
// evaluate triples from several goroutines.
type Model interface {
	// Dims returns the model sizes.
	Dims() Dims

	// Energy returns the energy of one triple.
	Energy(t triple.Triple) float64

	// Energies returns the energy of each triple, in order.
	Energies(ts []triple.Triple) []float64

	// AxisEnergy returns the energies of t with one slot replaced by every
	// value of that axis: length W for Subject and Object, R for Relation.
	AxisEnergy(t triple.Triple, axis triple.Axis) []float64

	// Gradient returns the derivative of Energy(t) with respect to the
	// parameter rows the triple touches.
	Gradient(t triple.Triple) Gradient

	// Gradients returns Gradient for each triple, in order.
	Gradients(ts []triple.Triple) []Gradient
}

// Gradient is the sparse derivative of one triple's energy:
// dE/dC[S], dE/dG[R] and dE/dV[T].
type Gradient struct {
	Triple triple.Triple
	C      *mat.VecDense
	G      *mat.Dense
	V      *mat.VecDense
}

// Bilinear evaluates the bilinear energy over a Params value.
//
// It reads the parameters on every call, so updates committed to the
// Params are visible immediately.
type Bilinear struct {
	params *Params
	par    parallel.Config
}

var _ Model = (*Bilinear)(nil)

// NewBilinear returns a model over p. Batched methods use par.
func NewBilinear(p *Params, par parallel.Config) *Bilinear {
	return &Bilinear{params: p, par: par}
}

// Params returns the parameters the model reads.
func (b *Bilinear) Params() *Params {
	return b.params
}

// Dims returns the model sizes.
func (b *Bilinear) Dims() Dims {
	return b.params.dims
}

// Energy returns -V[t]·(G[r]C[s]).
func (b *Bilinear) Energy(t triple.Triple) float64 {
	p := b.params
	var gc mat.VecDense
	gc.MulVec(p.G[t.R], p.C.RowView(t.S))
	return -mat.Dot(p.V.RowView(t.T), &gc)
}

// Energies evaluates every triple independently.
func (b *Bilinear) Energies(ts []triple.Triple) []float64 {
	out := make([]float64, len(ts))
	parallel.For(len(ts), func(i int) {
		out[i] = b.Energy(ts[i])
	}, b.par)
	return out
}

// AxisEnergy returns the energies along one axis of t.
//
// Subject and Object use a single matrix-vector product against the
// embedding table; Relation loops over the relation matrices.
func (b *Bilinear) AxisEnergy(t triple.Triple, axis triple.Axis) []float64 {
	p := b.params
	var out []float64

	switch axis {
	case triple.Subject:
		// E(i) = -C[i]·(G[r]^T V[t])
		var u, e mat.VecDense
		u.MulVec(p.G[t.R].T(), p.V.RowView(t.T))
		e.MulVec(p.C, &u)
		out = e.RawVector().Data
	case triple.Object:
		// E(i) = -V[i]·(G[r] C[s])
		var u, e mat.VecDense
		u.MulVec(p.G[t.R], p.C.RowView(t.S))
		e.MulVec(p.V, &u)
		out = e.RawVector().Data
	case triple.Relation:
		out = make([]float64, len(p.G))
		c, v := p.C.RowView(t.S), p.V.RowView(t.T)
		for r, g := range p.G {
			out[r] = mat.Inner(v, g, c)
		}
	default:
		panic(fmt.Sprintf("energy: invalid axis %d", int(axis)))
	}

	floats.Scale(-1, out)
	return out
}

// Gradient returns dE/dC[s] = -G[r]^T V[t], dE/dG[r] = -V[t] C[s]^T and
// dE/dV[t] = -G[r] C[s].
func (b *Bilinear) Gradient(t triple.Triple) Gradient {
	p := b.params
	c, v := p.C.RowView(t.S), p.V.RowView(t.T)

	var dc, dv mat.VecDense
	dc.MulVec(p.G[t.R].T(), v)
	dc.ScaleVec(-1, &dc)
	dv.MulVec(p.G[t.R], c)
	dv.ScaleVec(-1, &dv)

	d := p.dims.D
	dg := mat.NewDense(d, d, nil)
	dg.Outer(-1, v, c)

	return Gradient{Triple: t, C: &dc, G: dg, V: &dv}
}

// Gradients evaluates per-triple gradients in parallel.
func (b *Bilinear) Gradients(ts []triple.Triple) []Gradient {
	out := make([]Gradient, len(ts))
	parallel.For(len(ts), func(i int) {
		out[i] = b.Gradient(ts[i])
	}, b.par)
	return out
}
