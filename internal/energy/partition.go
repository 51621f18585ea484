package energy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ratsch/bf2/internal/triple"
)

// NegEnergyTable returns -E(s, r, t) for every triple of the W x R x W
// space, flattened in (s, r, t) row-major order.
//
// The table has W*R*W entries; callers are responsible for keeping the
// vocabulary small enough to enumerate.
func NegEnergyTable(m Model) []float64 {
	d := m.Dims()
	out := make([]float64, 0, d.W*d.R*d.W)
	for s := 0; s < d.W; s++ {
		for r := 0; r < d.R; r++ {
			for _, e := range m.AxisEnergy(triple.Triple{S: s, R: r}, triple.Object) {
				out = append(out, -e)
			}
		}
	}
	return out
}

// LogPartition returns log Z = log Σ exp(-E) over every triple.
func LogPartition(m Model) (float64, error) {
	logZ := floats.LogSumExp(NegEnergyTable(m))
	if math.IsNaN(logZ) || math.IsInf(logZ, 0) {
		return 0, fmt.Errorf("%w: log partition function is %v", ErrNumerical, logZ)
	}
	return logZ, nil
}

// LogLikelihood returns Σ_data (-E(x) - log Z).
func LogLikelihood(m Model, data []triple.Triple) (float64, error) {
	logZ, err := LogPartition(m)
	if err != nil {
		return 0, err
	}
	var ll float64
	for _, e := range m.Energies(data) {
		ll += -e - logZ
	}
	return ll, nil
}

// MeanEnergy returns the mean energy of ts, or NaN when ts is empty.
func MeanEnergy(m Model, ts []triple.Triple) float64 {
	if len(ts) == 0 {
		return math.NaN()
	}
	return stat.Mean(m.Energies(ts), nil)
}

// Norms summarises embedding magnitudes: the mean Euclidean norm of the
// free coordinates of C and V rows, and the mean Frobenius norm of G[r].
type Norms struct {
	C, G, V float64
}

// ComputeNorms returns the norm summary of p.
func ComputeNorms(p *Params) Norms {
	free := p.dims.D - 1
	rowNorms := func(m *mat.Dense) float64 {
		norms := make([]float64, p.dims.W)
		for i := range norms {
			norms[i] = floats.Norm(m.RawRowView(i)[:free], 2)
		}
		return stat.Mean(norms, nil)
	}

	g := make([]float64, len(p.G))
	for r, gr := range p.G {
		g[r] = mat.Norm(gr, 2)
	}

	return Norms{C: rowNorms(p.C), G: stat.Mean(g, nil), V: rowNorms(p.V)}
}
