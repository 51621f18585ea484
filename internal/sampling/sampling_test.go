package sampling_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ratsch/bf2/internal/energy"
	"github.com/ratsch/bf2/internal/parallel"
	"github.com/ratsch/bf2/internal/sampling"
	"github.com/ratsch/bf2/internal/triple"
)

// TestSoftmax_EqualLogitsUniform checks max subtraction keeps large equal
// logits uniform.
func TestSoftmax_EqualLogitsUniform(t *testing.T) {
	for _, v := range []float64{0, 1000, -1000} {
		probs, err := sampling.Softmax([]float64{v, v, v, v})
		require.NoError(t, err)
		for _, p := range probs {
			assert.InDelta(t, 0.25, p, 1e-15)
		}
	}
}

// TestSoftmax_Values checks probabilities against direct computation.
func TestSoftmax_Values(t *testing.T) {
	probs, err := sampling.Softmax([]float64{0, math.Log(2), math.Log(7), math.Inf(-1)})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, probs[0], 1e-12)
	assert.InDelta(t, 0.2, probs[1], 1e-12)
	assert.InDelta(t, 0.7, probs[2], 1e-12)
	assert.Equal(t, 0.0, probs[3])
}

// TestSoftmax_Degenerate checks every unnormalisable input is reported.
func TestSoftmax_Degenerate(t *testing.T) {
	tests := []struct {
		name   string
		logits []float64
	}{
		{"empty", nil},
		{"all -Inf", []float64{math.Inf(-1), math.Inf(-1)}},
		{"+Inf", []float64{0, math.Inf(1)}},
		{"NaN first", []float64{math.NaN(), 0}},
		{"NaN later", []float64{0, math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sampling.Softmax(tt.logits)
			assert.True(t, errors.Is(err, sampling.ErrDegenerate), "got %v", err)

			_, err = sampling.Categorical(tt.logits, rand.New(rand.NewSource(1)))
			assert.True(t, errors.Is(err, sampling.ErrDegenerate))
		})
	}
}

// TestCategorical_Frequencies checks empirical frequencies.
func TestCategorical_Frequencies(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	logits := []float64{0, math.Log(2), math.Log(7)}

	const n = 20000
	counts := make([]int, 3)
	for i := 0; i < n; i++ {
		k, err := sampling.Categorical(logits, rng)
		require.NoError(t, err)
		counts[k]++
	}
	assert.InDelta(t, 0.1, float64(counts[0])/n, 0.015)
	assert.InDelta(t, 0.2, float64(counts[1])/n, 0.015)
	assert.InDelta(t, 0.7, float64(counts[2])/n, 0.015)
}

// TestNoise checks bounds and determinism.
func TestNoise(t *testing.T) {
	a := sampling.Noise(7, 3, 500, rand.New(rand.NewSource(5)))
	b := sampling.Noise(7, 3, 500, rand.New(rand.NewSource(5)))
	require.Len(t, a, 500)
	assert.Equal(t, a, b)

	seen := make(map[int]bool)
	for _, tr := range a {
		assert.NoError(t, tr.Validate(7, 3))
		seen[tr.S] = true
	}
	assert.Len(t, seen, 7, "every subject appears in 500 uniform draws")
}

// subjectOnlyModel returns a model whose energy depends on the subject
// only: one relation and identical object embeddings.
func subjectOnlyModel(t *testing.T) *energy.Bilinear {
	t.Helper()
	c := mat.NewDense(3, 2, []float64{0, 1, 1, 1, 2, 1})
	v := mat.NewDense(3, 2, []float64{1, 1, 1, 1, 1, 1})
	g := []*mat.Dense{mat.NewDense(2, 2, []float64{1, 0, 0, 1})}
	p, err := energy.NewParams(c, g, v)
	require.NoError(t, err)
	return energy.NewBilinear(p, parallel.Sequential())
}

// TestGibbs_SubjectDistribution checks one sweep draws the subject from
// softmax(-E(., r, t)) when the conditional does not depend on the other
// slots.
func TestGibbs_SubjectDistribution(t *testing.T) {
	m := subjectOnlyModel(t)
	g := sampling.NewGibbs(m, rand.New(rand.NewSource(11)))

	// E(s) = -(c_s + 1) for c = 0, 1, 2.
	want, err := sampling.Softmax([]float64{1, 2, 3})
	require.NoError(t, err)

	const n = 20000
	counts := make([]int, 3)
	for i := 0; i < n; i++ {
		out, err := g.Sample(triple.Triple{S: 0, R: 0, T: 0}, 1)
		require.NoError(t, err)
		counts[out.S]++
	}
	for s := range counts {
		assert.InDelta(t, want[s], float64(counts[s])/n, 0.015, "subject %d", s)
	}
}

// TestGibbs_Deterministic checks equal seeds give equal chains.
func TestGibbs_Deterministic(t *testing.T) {
	p, err := energy.RandomParams(6, 2, 3, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	m := energy.NewBilinear(p, parallel.Sequential())

	run := func() []triple.Triple {
		chains := sampling.Noise(6, 2, 10, rand.New(rand.NewSource(2)))
		g := sampling.NewGibbs(m, rand.New(rand.NewSource(3)))
		require.NoError(t, g.Chains(chains, 3))
		return chains
	}
	first := run()
	assert.Equal(t, first, run())
	for _, tr := range first {
		assert.NoError(t, tr.Validate(6, 2))
	}
}

// TestGibbs_ZeroSweeps returns the seed unchanged.
func TestGibbs_ZeroSweeps(t *testing.T) {
	g := sampling.NewGibbs(subjectOnlyModel(t), rand.New(rand.NewSource(1)))
	seed := triple.Triple{S: 2, R: 0, T: 1}
	out, err := g.Sample(seed, 0)
	require.NoError(t, err)
	assert.Equal(t, seed, out)
}

// TestGibbs_DegenerateLeavesChains checks a failed draw is reported and
// the chains are not partially advanced.
func TestGibbs_DegenerateLeavesChains(t *testing.T) {
	p, err := energy.RandomParams(3, 1, 2, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	p.V.Set(2, 0, math.NaN())
	p.C.Set(2, 0, math.NaN())
	m := energy.NewBilinear(p, parallel.Sequential())
	g := sampling.NewGibbs(m, rand.New(rand.NewSource(1)))

	chains := []triple.Triple{{S: 0, R: 0, T: 0}, {S: 1, R: 0, T: 1}}
	before := append([]triple.Triple(nil), chains...)

	err = g.Chains(chains, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sampling.ErrDegenerate))
	assert.Equal(t, before, chains)
}
