package trainer_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ratsch/bf2/internal/energy"
	"github.com/ratsch/bf2/internal/parallel"
	"github.com/ratsch/bf2/internal/trainer"
	"github.com/ratsch/bf2/internal/triple"
)

func testConfig() trainer.Config {
	cfg := trainer.DefaultConfig()
	cfg.BatchSize = 5
	cfg.SamplingRate = 5
	cfg.NumSamples = 4
	cfg.DiagnosticsRate = 0
	cfg.ValidationSize = 0
	cfg.Parallel = parallel.Sequential()
	return cfg
}

func randomTriples(w, r, n int, seed int64) []triple.Triple {
	rng := rand.New(rand.NewSource(seed))
	out := make([]triple.Triple, n)
	for i := range out {
		out[i] = triple.Triple{S: rng.Intn(w), R: rng.Intn(r), T: rng.Intn(w)}
	}
	return out
}

func randomParams(t *testing.T, w, r, d int) *energy.Params {
	t.Helper()
	p, err := energy.RandomParams(w, r, d, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	return p
}

// TestTrain_ExactSmallVocabulary trains W=5, R=1, d=3 in exact mode on the
// diagonal triples and checks their mean energy strictly decreases after
// every update.
func TestTrain_ExactSmallVocabulary(t *testing.T) {
	p, err := energy.Initialize(5, 1, 3, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Exact = true
	cfg.Alpha = [3]float64{0.1, 0.1, 0.1}
	tr, err := trainer.New(p, cfg)
	require.NoError(t, err)
	assert.False(t, tr.Config().Persistent, "exact mode disables persistent chains")

	data := []triple.Triple{{S: 0, R: 0, T: 0}, {S: 1, R: 0, T: 1}, {S: 2, R: 0, T: 2}, {S: 3, R: 0, T: 3}, {S: 4, R: 0, T: 4}}
	prev := energy.MeanEnergy(tr.Model(), data)
	for epoch := 0; epoch < 5; epoch++ {
		res, err := tr.Train(context.Background(), triple.NewSliceSource(data))
		require.NoError(t, err)
		assert.Equal(t, epoch+1, res.Steps)

		e := energy.MeanEnergy(tr.Model(), data)
		assert.Less(t, e, prev, "epoch %d", epoch)
		prev = e
	}
	assert.Equal(t, trainer.Done, tr.State())
	assert.True(t, mat.Equal(p.G[0], identityDense(4)), "relation gradient is zeroed by default")
}

// observedSource calls observe before reading past every full batch, i.e.
// right after each update.
type observedSource struct {
	src     triple.Source
	batch   int
	read    int
	observe func()
}

func (o *observedSource) Next() (triple.Triple, error) {
	if o.read > 0 && o.read%o.batch == 0 {
		o.observe()
	}
	x, err := o.src.Next()
	if err == nil {
		o.read++
	}
	return x, err
}

// TestTrain_ExactSingleStream feeds the W=5 diagonal triples five times as
// one 25-triple stream and checks the batch energy after every update.
func TestTrain_ExactSingleStream(t *testing.T) {
	p, err := energy.Initialize(5, 1, 3, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Exact = true
	cfg.Alpha = [3]float64{0.1, 0.1, 0.1}
	tr, err := trainer.New(p, cfg)
	require.NoError(t, err)

	batch := []triple.Triple{{S: 0, R: 0, T: 0}, {S: 1, R: 0, T: 1}, {S: 2, R: 0, T: 2}, {S: 3, R: 0, T: 3}, {S: 4, R: 0, T: 4}}
	var stream []triple.Triple
	for i := 0; i < 5; i++ {
		stream = append(stream, batch...)
	}

	energies := []float64{energy.MeanEnergy(tr.Model(), batch)}
	src := &observedSource{
		src:   triple.NewSliceSource(stream),
		batch: cfg.BatchSize,
		observe: func() {
			energies = append(energies, energy.MeanEnergy(tr.Model(), batch))
		},
	}
	res, err := tr.Train(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Steps)
	assert.Equal(t, int64(25), res.Seen)

	require.Len(t, energies, 6, "one reading before training and one per update")
	for i := 1; i < len(energies); i++ {
		assert.Less(t, energies[i], energies[i-1], "update %d", i)
	}
}

// TestTrain_HomogeneousInvariant checks the pinned coordinates survive
// training in every mode.
func TestTrain_HomogeneousInvariant(t *testing.T) {
	modes := map[string]func(*trainer.Config){
		"exact":        func(c *trainer.Config) { c.Exact = true },
		"persistent":   func(c *trainer.Config) { c.Persistent = true },
		"batch-seeded": func(c *trainer.Config) { c.Persistent = false },
		"noise":        func(c *trainer.Config) { c.Noise = true },
		"adam":         func(c *trainer.Config) { c.Optimizer = trainer.OptimizerAdam },
		"learned relations": func(c *trainer.Config) {
			c.ZeroRelationGradient = false
			c.Alpha = [3]float64{0.05, 0.05, 0.05}
		},
		"pinned relation bias": func(c *trainer.Config) {
			c.ZeroRelationGradient = false
			c.PinRelationBias = true
		},
	}
	for name, apply := range modes {
		t.Run(name, func(t *testing.T) {
			p := randomParams(t, 6, 2, 2)
			cfg := testConfig()
			apply(&cfg)
			tr, err := trainer.New(p, cfg)
			require.NoError(t, err)

			res, err := tr.Train(context.Background(), triple.NewSliceSource(randomTriples(6, 2, 200, 8)))
			require.NoError(t, err)
			assert.Equal(t, 40, res.Steps)
			assert.True(t, p.IsFinite())

			for i := 0; i < 6; i++ {
				assert.Equal(t, 1.0, p.C.At(i, 2))
				assert.Equal(t, 1.0, p.V.At(i, 2))
			}
			for _, g := range p.G {
				assert.Equal(t, []float64{0, 0, 1}, g.RawRowView(2))
			}
		})
	}
}

// TestTrain_ValidationDisjoint checks held-out triples are deduplicated
// and never trained on.
func TestTrain_ValidationDisjoint(t *testing.T) {
	var held []triple.Triple
	for i := 0; i < 20; i++ {
		held = append(held, triple.Triple{S: i % 10, R: i / 10, T: (i * 3) % 10})
	}
	stream := append([]triple.Triple(nil), held[:6]...)
	stream = append(stream, held[0]) // duplicate during the fill
	stream = append(stream, held[6:]...)
	for j := 0; j < 100; j++ {
		if j%4 == 0 {
			stream = append(stream, held[(j/4)%20])
			continue
		}
		s := j % 10
		stream = append(stream, triple.Triple{S: s, R: 0, T: (s*3 + 1) % 10})
	}

	cfg := testConfig()
	cfg.ValidationSize = 20
	tr, err := trainer.New(randomParams(t, 10, 2, 2), cfg)
	require.NoError(t, err)

	res, err := tr.Train(context.Background(), triple.NewSliceSource(stream))
	require.NoError(t, err)
	assert.Equal(t, held, res.Validation)
	assert.Equal(t, int64(25), res.Skipped)
	assert.Equal(t, int64(75), res.Seen)
	assert.Equal(t, 15, res.Steps)

	// The result owns its copy of the held-out triples.
	res.Validation[0] = triple.Triple{S: 9, R: 1, T: 9}
	again, err := tr.Train(context.Background(), triple.NewSliceSource(nil))
	require.NoError(t, err)
	assert.Equal(t, held, again.Validation)
}

// TestTrain_SmallVocabularyOverlap checks held-out triples are trained on
// when the vocabulary is at most OverlapVocabularyLimit.
func TestTrain_SmallVocabularyOverlap(t *testing.T) {
	cfg := testConfig()
	cfg.ValidationSize = 3
	tr, err := trainer.New(randomParams(t, 5, 1, 2), cfg)
	require.NoError(t, err)

	held := []triple.Triple{{S: 0, R: 0, T: 1}, {S: 1, R: 0, T: 2}, {S: 2, R: 0, T: 3}}
	stream := append(append([]triple.Triple(nil), held...), held...)
	stream = append(stream, held...)

	res, err := tr.Train(context.Background(), triple.NewSliceSource(stream))
	require.NoError(t, err)
	assert.Zero(t, res.Skipped)
	assert.Equal(t, int64(6), res.Seen)
	assert.Equal(t, 1, res.Steps)
}

// TestTrain_VocabularyError checks out-of-range triples are fatal and the
// result reflects the last committed update.
func TestTrain_VocabularyError(t *testing.T) {
	p := randomParams(t, 4, 2, 2)
	tr, err := trainer.New(p, testConfig())
	require.NoError(t, err)

	stream := randomTriples(4, 2, 7, 1)
	stream = append(stream, triple.Triple{S: 0, R: 2, T: 0})
	stream = append(stream, randomTriples(4, 2, 10, 2)...)

	res, err := tr.Train(context.Background(), triple.NewSliceSource(stream))
	require.Error(t, err)
	assert.True(t, errors.Is(err, triple.ErrVocabulary))
	require.NotNil(t, res)
	assert.Equal(t, int64(7), res.Seen)
	assert.Equal(t, 1, res.Steps)
	assert.Same(t, p, res.Params)
}

// TestTrain_Cancellation stops before consuming the source.
func TestTrain_Cancellation(t *testing.T) {
	tr, err := trainer.New(randomParams(t, 4, 1, 2), testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := tr.Train(ctx, triple.NewSliceSource(randomTriples(4, 1, 20, 1)))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, res.Seen)
}

// TestTrain_Deterministic checks equal seeds give identical parameters.
func TestTrain_Deterministic(t *testing.T) {
	run := func() *energy.Params {
		p := randomParams(t, 6, 2, 3)
		tr, err := trainer.New(p, testConfig())
		require.NoError(t, err)
		_, err = tr.Train(context.Background(), triple.NewSliceSource(randomTriples(6, 2, 100, 4)))
		require.NoError(t, err)
		return p
	}
	a, b := run(), run()
	assert.Equal(t, a.C.RawMatrix().Data, b.C.RawMatrix().Data)
	assert.Equal(t, a.V.RawMatrix().Data, b.V.RawMatrix().Data)
}

// TestTrain_Epochs checks state persists across Train calls.
func TestTrain_Epochs(t *testing.T) {
	cfg := testConfig()
	cfg.ValidationSize = 4
	tr, err := trainer.New(randomParams(t, 8, 2, 2), cfg)
	require.NoError(t, err)

	data := randomTriples(8, 2, 44, 6)
	first, err := tr.Train(context.Background(), triple.NewSliceSource(data))
	require.NoError(t, err)
	second, err := tr.Train(context.Background(), triple.NewSliceSource(data))
	require.NoError(t, err)

	assert.Equal(t, first.Validation, second.Validation, "the validation set is filled once")
	assert.Greater(t, second.Seen, first.Seen)
	// The second pass trains on every triple that is not held out.
	assert.Equal(t, first.Seen+44-(second.Skipped-first.Skipped), second.Seen)
}

// TestTrain_FixedWords checks frozen entity embeddings never move.
func TestTrain_FixedWords(t *testing.T) {
	p := randomParams(t, 5, 2, 2)
	before := p.Clone()

	cfg := testConfig()
	cfg.FixWords = true
	cfg.ZeroRelationGradient = false
	tr, err := trainer.New(p, cfg)
	require.NoError(t, err)
	_, err = tr.Train(context.Background(), triple.NewSliceSource(randomTriples(5, 2, 50, 1)))
	require.NoError(t, err)

	assert.True(t, mat.Equal(before.C, p.C))
	assert.True(t, mat.Equal(before.V, p.V))
	assert.False(t, mat.Equal(before.G[1], p.G[1]), "relations still learn")
}

// TestTrain_Diagnostics checks the record schema and cadence.
func TestTrain_Diagnostics(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig()
	cfg.DiagnosticsRate = 10
	cfg.ValidationSize = 5
	cfg.CalculateLL = true
	tr, err := trainer.New(randomParams(t, 6, 2, 2), cfg, trainer.WithDiagnostics(&buf))
	require.NoError(t, err)

	res, err := tr.Train(context.Background(), triple.NewSliceSource(randomTriples(6, 2, 200, 2)))
	require.NoError(t, err)
	require.NoError(t, res.DiagnosticsErr)

	records, err := trainer.ReadDiagnostics(&buf)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Len(t, records, int(res.Seen/10))
	for i, rec := range records {
		assert.Equal(t, int64(10*(i+1)), rec.N)
		assert.Less(t, rec.LL, 0.0)
		assert.False(t, math.IsNaN(rec.ModelEnergy), "persistent chains report model energy")
		assert.False(t, math.IsNaN(rec.ValidationEnergy))
		assert.False(t, math.IsNaN(rec.RandomEnergy))
		assert.Greater(t, rec.Norms.C, 0.0)
	}
}

// TestTrain_DiagnosticsNA checks values that are not computed are NA.
func TestTrain_DiagnosticsNA(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig()
	cfg.DiagnosticsRate = 10
	cfg.Persistent = false
	tr, err := trainer.New(randomParams(t, 6, 2, 2), cfg, trainer.WithDiagnostics(&buf))
	require.NoError(t, err)
	_, err = tr.Train(context.Background(), triple.NewSliceSource(randomTriples(6, 2, 20, 2)))
	require.NoError(t, err)

	assert.Equal(t,
		"n\ttime\tll\tdata_energy\tmodel_energy\tvaliset_energy\trandom_energy\tC_lens\tG_lens\tV_lens\n",
		buf.String()[:bytes.IndexByte(buf.Bytes(), '\n')+1])

	records, err := trainer.ReadDiagnostics(&buf)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(20), records[1].N)
	assert.True(t, math.IsNaN(records[0].LL))
	assert.True(t, math.IsNaN(records[0].ModelEnergy))
	assert.True(t, math.IsNaN(records[0].ValidationEnergy), "empty validation set")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

// TestTrain_DiagnosticsErrorsAreNonFatal checks write failures are
// collected while training completes.
func TestTrain_DiagnosticsErrorsAreNonFatal(t *testing.T) {
	cfg := testConfig()
	cfg.DiagnosticsRate = 10
	tr, err := trainer.New(randomParams(t, 6, 2, 2), cfg, trainer.WithDiagnostics(failingWriter{}))
	require.NoError(t, err)

	res, err := tr.Train(context.Background(), triple.NewSliceSource(randomTriples(6, 2, 50, 2)))
	require.NoError(t, err)
	assert.Equal(t, 10, res.Steps)
	require.Error(t, res.DiagnosticsErr)
	assert.Contains(t, res.DiagnosticsErr.Error(), "disk full")
}

// TestTrain_DiagnosticsDoNotChangeTrajectory checks diagnostics draw from
// their own random source.
func TestTrain_DiagnosticsDoNotChangeTrajectory(t *testing.T) {
	run := func(opts ...trainer.Option) *energy.Params {
		p := randomParams(t, 6, 2, 2)
		cfg := testConfig()
		cfg.DiagnosticsRate = 10
		tr, err := trainer.New(p, cfg, opts...)
		require.NoError(t, err)
		_, err = tr.Train(context.Background(), triple.NewSliceSource(randomTriples(6, 2, 100, 9)))
		require.NoError(t, err)
		return p
	}
	var buf bytes.Buffer
	a, b := run(), run(trainer.WithDiagnostics(&buf))
	assert.Equal(t, a.C.RawMatrix().Data, b.C.RawMatrix().Data)
	assert.NotZero(t, buf.Len())
}

// TestNew_ModePrecedence checks noise > exact > persistent.
func TestNew_ModePrecedence(t *testing.T) {
	cfg := testConfig()
	cfg.Noise, cfg.Exact, cfg.Persistent = true, true, true
	tr, err := trainer.New(randomParams(t, 3, 1, 1), cfg)
	require.NoError(t, err)
	assert.False(t, tr.Config().Exact)
	assert.False(t, tr.Config().Persistent)
	assert.True(t, tr.Config().Noise)

	cfg = testConfig()
	cfg.Exact, cfg.Persistent = true, true
	tr, err = trainer.New(randomParams(t, 3, 1, 1), cfg)
	require.NoError(t, err)
	assert.True(t, tr.Config().Exact)
	assert.False(t, tr.Config().Persistent)
}

// TestNew_InvalidConfig checks every rejected option.
func TestNew_InvalidConfig(t *testing.T) {
	tests := map[string]func(*trainer.Config){
		"zero batch":        func(c *trainer.Config) { c.BatchSize = 0 },
		"zero sampling":     func(c *trainer.Config) { c.SamplingRate = 0 },
		"zero samples":      func(c *trainer.Config) { c.NumSamples = 0 },
		"negative K":        func(c *trainer.Config) { c.GibbsIterations = -1 },
		"negative D":        func(c *trainer.Config) { c.DiagnosticsRate = -1 },
		"mu one":            func(c *trainer.Config) { c.Mu[1] = 1 },
		"NaN alpha":         func(c *trainer.Config) { c.Alpha[2] = math.NaN() },
		"unknown optimizer": func(c *trainer.Config) { c.Optimizer = "sgd" },
		"adam nu one": func(c *trainer.Config) {
			c.Optimizer = trainer.OptimizerAdam
			c.Nu[0] = 1
		},
		"adam zero eps": func(c *trainer.Config) {
			c.Optimizer = trainer.OptimizerAdam
			c.Epsilon = 0
		},
	}
	for name, apply := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			apply(&cfg)
			_, err := trainer.New(randomParams(t, 3, 1, 1), cfg)
			assert.True(t, errors.Is(err, trainer.ErrConfig), "got %v", err)
		})
	}

	// Exact mode ignores sampling options.
	cfg := testConfig()
	cfg.Exact = true
	cfg.SamplingRate, cfg.NumSamples = 0, 0
	_, err := trainer.New(randomParams(t, 3, 1, 1), cfg)
	assert.NoError(t, err)

	_, err = trainer.New(nil, testConfig())
	assert.True(t, errors.Is(err, trainer.ErrConfig))
}

func identityDense(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
