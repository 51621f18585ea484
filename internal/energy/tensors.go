package energy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Dims are the sizes of a bilinear model.
type Dims struct {
	W int // Entity vocabulary size
	R int // Relation vocabulary size
	D int // Embedding width, d+1 (the last coordinate is homogeneous)
}

// Rank returns d, the number of free embedding coordinates.
func (d Dims) Rank() int {
	return d.D - 1
}

// String implements fmt.Stringer.
func (d Dims) String() string {
	return fmt.Sprintf("W=%d R=%d d=%d", d.W, d.R, d.Rank())
}

// Kind identifies one of the three parameter tensors.
type Kind int

// Parameter tensors, in the order used by per-tensor hyperparameters.
const (
	KindC Kind = iota // Subject embeddings
	KindG             // Relation operators
	KindV             // Object embeddings
)

// Kinds lists the parameter tensors in hyperparameter order.
var Kinds = [3]Kind{KindC, KindG, KindV}

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindC:
		return "C"
	case KindG:
		return "G"
	case KindV:
		return "V"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Tensors is one parameter-shaped set: W x D matrices C and V and R
// matrices G[r] of shape D x D.
//
// The same type carries parameters, gradient deltas, velocities and second
// moments, so every elementwise rule can walk the three tensors uniformly.
type Tensors struct {
	C *mat.Dense
	G []*mat.Dense
	V *mat.Dense
}

// NewTensors returns zero tensors of the given dims.
func NewTensors(d Dims) *Tensors {
	g := make([]*mat.Dense, d.R)
	for r := range g {
		g[r] = mat.NewDense(d.D, d.D, nil)
	}
	return &Tensors{
		C: mat.NewDense(d.W, d.D, nil),
		G: g,
		V: mat.NewDense(d.W, d.D, nil),
	}
}

// Dims returns the sizes implied by the tensor shapes.
func (t *Tensors) Dims() Dims {
	w, d := t.C.Dims()
	return Dims{W: w, R: len(t.G), D: d}
}

// Clone returns a deep copy.
func (t *Tensors) Clone() *Tensors {
	g := make([]*mat.Dense, len(t.G))
	for r := range g {
		g[r] = mat.DenseCopyOf(t.G[r])
	}
	return &Tensors{C: mat.DenseCopyOf(t.C), G: g, V: mat.DenseCopyOf(t.V)}
}

// CopyFrom overwrites t with src. Shapes must match.
func (t *Tensors) CopyFrom(src *Tensors) {
	t.C.Copy(src.C)
	for r := range t.G {
		t.G[r].Copy(src.G[r])
	}
	t.V.Copy(src.V)
}

// CheckShape returns an error wrapping ErrShape if o's shapes differ from t's.
func (t *Tensors) CheckShape(o *Tensors) error {
	if o == nil {
		return fmt.Errorf("%w: nil tensors", ErrShape)
	}
	if len(o.G) != len(t.G) {
		return fmt.Errorf("%w: %d relation matrices, want %d", ErrShape, len(o.G), len(t.G))
	}
	if !sameDims(t.C, o.C) || !sameDims(t.V, o.V) {
		return fmt.Errorf("%w: entity tensors differ", ErrShape)
	}
	for r := range t.G {
		if !sameDims(t.G[r], o.G[r]) {
			return fmt.Errorf("%w: relation matrix %d differs", ErrShape, r)
		}
	}
	return nil
}

// Blocks returns the raw row-major backing slices of tensor k: one slice
// for C and V, one per relation for G. Writes go straight to the tensors.
func (t *Tensors) Blocks(k Kind) [][]float64 {
	switch k {
	case KindC:
		return [][]float64{t.C.RawMatrix().Data}
	case KindV:
		return [][]float64{t.V.RawMatrix().Data}
	case KindG:
		blocks := make([][]float64, len(t.G))
		for r, g := range t.G {
			blocks[r] = g.RawMatrix().Data
		}
		return blocks
	default:
		panic(fmt.Sprintf("energy: invalid tensor kind %d", int(k)))
	}
}

// AddScaled sets t = t + alpha*o.
func (t *Tensors) AddScaled(alpha float64, o *Tensors) {
	t.C.Add(t.C, scaled(alpha, o.C))
	for r := range t.G {
		t.G[r].Add(t.G[r], scaled(alpha, o.G[r]))
	}
	t.V.Add(t.V, scaled(alpha, o.V))
}

// IsFinite reports whether every element is neither NaN nor infinite.
func (t *Tensors) IsFinite() bool {
	for _, k := range Kinds {
		for _, block := range t.Blocks(k) {
			for _, v := range block {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return false
				}
			}
		}
	}
	return true
}

func scaled(alpha float64, m *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Scale(alpha, m)
	return &out
}

func sameDims(a, b *mat.Dense) bool {
	if a == nil || b == nil {
		return false
	}
	ar, ac := a.Dims()
	br, bc := b.Dims()
	return ar == br && ac == bc
}
