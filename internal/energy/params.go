package energy

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ratsch/bf2/internal/serialization"
)

// Errors returned by the energy model.
var (
	// ErrShape reports embedding tensors with inconsistent shapes.
	ErrShape = errors.New("inconsistent embedding shapes")

	// ErrNumerical reports energies whose exponentials cannot be normalized.
	ErrNumerical = errors.New("numerical instability")
)

// Params owns the embedding tensors of a bilinear model.
//
// Invariants, established by every constructor and preserved by training:
//   - the last column of C and of V is exactly 1 (homogeneous coordinate);
//   - the last row of every G[r] is the unit basis vector e_D.
type Params struct {
	Tensors
	dims Dims
}

// NewParams validates and copies caller-supplied embeddings.
//
// c and v must have identical shape W x D; g must hold at least one D x D
// matrix. Views of larger matrices are accepted. The homogeneous
// coordinates are pinned on the copies.
func NewParams(c *mat.Dense, g []*mat.Dense, v *mat.Dense) (*Params, error) {
	if err := checkShapes(c, g, v); err != nil {
		return nil, err
	}
	gc := make([]*mat.Dense, len(g))
	for r, gr := range g {
		gc[r] = mat.DenseCopyOf(gr)
	}
	return adopt(mat.DenseCopyOf(c), gc, mat.DenseCopyOf(v))
}

// adopt wraps freshly allocated, contiguous matrices without copying.
func adopt(c *mat.Dense, g []*mat.Dense, v *mat.Dense) (*Params, error) {
	if err := checkShapes(c, g, v); err != nil {
		return nil, err
	}
	w, d := c.Dims()
	p := &Params{
		Tensors: Tensors{C: c, G: g, V: v},
		dims:    Dims{W: w, R: len(g), D: d},
	}
	p.pin()
	return p, nil
}

func checkShapes(c *mat.Dense, g []*mat.Dense, v *mat.Dense) error {
	if c == nil || v == nil {
		return fmt.Errorf("%w: nil entity embeddings", ErrShape)
	}
	w, d := c.Dims()
	vw, vd := v.Dims()
	if w != vw || d != vd {
		return fmt.Errorf("%w: C is %dx%d, V is %dx%d", ErrShape, w, d, vw, vd)
	}
	if d < 2 {
		return fmt.Errorf("%w: embedding width %d leaves no free coordinate", ErrShape, d)
	}
	if len(g) == 0 {
		return fmt.Errorf("%w: no relation matrices", ErrShape)
	}
	for r, gr := range g {
		if gr == nil {
			return fmt.Errorf("%w: relation matrix %d is nil", ErrShape, r)
		}
		rows, cols := gr.Dims()
		if rows != d || cols != d {
			return fmt.Errorf("%w: G[%d] is %dx%d, want %dx%d", ErrShape, r, rows, cols, d, d)
		}
	}
	return nil
}

// RandomParams draws initial embeddings for W entities, R relations and
// rank d: C and V entries from N(0, 0.1²), G entries from N(0, 0.01²) with
// G[0] set to the identity.
func RandomParams(w, r, d int, rng *rand.Rand) (*Params, error) {
	if w < 1 || r < 1 || d < 1 {
		return nil, fmt.Errorf("%w: W=%d R=%d d=%d must all be positive", ErrShape, w, r, d)
	}
	width := d + 1

	c := mat.NewDense(w, width, nil)
	v := mat.NewDense(w, width, nil)
	fillNormal(c.RawMatrix().Data, 0.1, rng)
	fillNormal(v.RawMatrix().Data, 0.1, rng)

	g := make([]*mat.Dense, r)
	for i := range g {
		g[i] = mat.NewDense(width, width, nil)
		fillNormal(g[i].RawMatrix().Data, 0.01, rng)
	}
	for i := 0; i < width; i++ {
		for j := 0; j < width; j++ {
			if i == j {
				g[0].Set(i, j, 1)
			} else {
				g[0].Set(i, j, 0)
			}
		}
	}

	return adopt(c, g, v)
}

// Initialize returns the reference embeddings for the W=5, d=3 regression
// dataset and random embeddings otherwise.
func Initialize(w, r, d int, rng *rand.Rand) (*Params, error) {
	if w == 5 && d == 3 {
		p, err := RandomParams(w, r, d, rng)
		if err != nil {
			return nil, err
		}
		p.C.Copy(mat.NewDense(5, 4, append([]float64(nil), referenceC...)))
		p.V.Copy(mat.NewDense(5, 4, append([]float64(nil), referenceV...)))
		return p, nil
	}
	return RandomParams(w, r, d, rng)
}

// Dims returns the model sizes.
func (p *Params) Dims() Dims {
	return p.dims
}

// Clone returns a deep copy of the parameters.
func (p *Params) Clone() *Params {
	return &Params{Tensors: *p.Tensors.Clone(), dims: p.dims}
}

// pin enforces the homogeneous-coordinate invariants.
func (p *Params) pin() {
	last := p.dims.D - 1
	for i := 0; i < p.dims.W; i++ {
		p.C.Set(i, last, 1)
		p.V.Set(i, last, 1)
	}
	for _, g := range p.G {
		for j := 0; j < p.dims.D; j++ {
			g.Set(last, j, 0)
		}
		g.Set(last, last, 1)
	}
}

// StateDict returns the parameters as named tensors "C" [W, D],
// "G" [R, D, D] and "V" [W, D]. Data is copied.
func (p *Params) StateDict() []serialization.Tensor {
	return p.Tensors.StateDict("")
}

// StateDict returns t as named tensors with the given name prefix.
func (t *Tensors) StateDict(prefix string) []serialization.Tensor {
	d := t.Dims()
	g := make([]float64, 0, d.R*d.D*d.D)
	for _, gr := range t.G {
		g = append(g, gr.RawMatrix().Data...)
	}
	return []serialization.Tensor{
		{Name: prefix + "C", Shape: []int{d.W, d.D}, Data: append([]float64(nil), t.C.RawMatrix().Data...)},
		{Name: prefix + "G", Shape: []int{d.R, d.D, d.D}, Data: g},
		{Name: prefix + "V", Shape: []int{d.W, d.D}, Data: append([]float64(nil), t.V.RawMatrix().Data...)},
	}
}

// ParamsFromStateDict rebuilds parameters from tensors named "C", "G", "V".
// Other tensors (optimizer state) are ignored.
func ParamsFromStateDict(tensors []serialization.Tensor) (*Params, error) {
	byName := make(map[string]serialization.Tensor, len(tensors))
	for _, t := range tensors {
		byName[t.Name] = t
	}

	c, err := matrixFrom(byName, "C")
	if err != nil {
		return nil, err
	}
	v, err := matrixFrom(byName, "V")
	if err != nil {
		return nil, err
	}
	gt, ok := byName["G"]
	if !ok || len(gt.Shape) != 3 || gt.Validate() != nil {
		return nil, fmt.Errorf("%w: missing or malformed tensor G", ErrShape)
	}
	r, rows, cols := gt.Shape[0], gt.Shape[1], gt.Shape[2]
	if r < 1 || rows < 1 || cols < 1 {
		return nil, fmt.Errorf("%w: G has shape %v", ErrShape, gt.Shape)
	}
	g := make([]*mat.Dense, r)
	for i := range g {
		block := gt.Data[i*rows*cols : (i+1)*rows*cols]
		g[i] = mat.NewDense(rows, cols, append([]float64(nil), block...))
	}

	return adopt(c, g, v)
}

func matrixFrom(byName map[string]serialization.Tensor, name string) (*mat.Dense, error) {
	t, ok := byName[name]
	if !ok || len(t.Shape) != 2 || t.Validate() != nil || t.Shape[0] < 1 || t.Shape[1] < 1 {
		return nil, fmt.Errorf("%w: missing or malformed tensor %s", ErrShape, name)
	}
	return mat.NewDense(t.Shape[0], t.Shape[1], append([]float64(nil), t.Data...)), nil
}

func fillNormal(data []float64, scale float64, rng *rand.Rand) {
	for i := range data {
		data[i] = rng.NormFloat64() * scale
	}
}

// Reference embeddings for the W=5, d=3 regression dataset.
var (
	referenceC = []float64{
		0.01481961, -0.01517603, 0.00596634, 1,
		-0.0080693, 0.00852271, -0.00106983, 1,
		-0.0012176, 0.02482517, 0.01040345, 1,
		0.00962732, 0.0100687, 0.00756443, 1,
		0.00841503, 0.00188252, 0.02689446, 1,
	}
	referenceV = []float64{
		-0.00878185, -0.01871243, -0.01610301, 1,
		-0.02036443, -0.02137387, 0.00874672, 1,
		0.00898955, 0.00722872, -0.00504091, 1,
		0.00324052, 0.02674052, 0.00166536, 1,
		0.01199952, 0.00430334, 0.0040228, 1,
	}
)
