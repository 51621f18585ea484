package gradient

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/ratsch/bf2/internal/energy"
	"github.com/ratsch/bf2/internal/parallel"
	"github.com/ratsch/bf2/internal/sampling"
	"github.com/ratsch/bf2/internal/triple"
)

// Estimator supplies the model term of the gradient.
type Estimator interface {
	// Refresh updates the estimate using the current batch slots.
	// A no-op for estimators that compute the term on demand.
	Refresh(ctx context.Context, batch []triple.Triple) error

	// ModelTerm returns the model term and the prefactor it must be
	// weighted by in Combine.
	ModelTerm(ctx context.Context, batch []triple.Triple) (*energy.Tensors, float64, error)

	// Samples returns the current sample set, or nil when the estimator
	// does not sample. The slice must not be modified.
	Samples() []triple.Triple

	// Name identifies the estimator in logs.
	Name() string
}

// Exact computes the model term by enumerating the whole triple space.
type Exact struct {
	model     energy.Model
	par       parallel.Config
	batchSize int
}

var _ Estimator = (*Exact)(nil)

// NewExact returns an exact estimator for batches of batchSize triples.
func NewExact(m energy.Model, batchSize int, par parallel.Config) *Exact {
	return &Exact{model: m, par: par, batchSize: batchSize}
}

// Refresh does nothing: the exact term depends only on the parameters.
func (e *Exact) Refresh(context.Context, []triple.Triple) error {
	return nil
}

// ModelTerm returns the partition-function gradient weighted by the batch
// size.
func (e *Exact) ModelTerm(ctx context.Context, _ []triple.Triple) (*energy.Tensors, float64, error) {
	term, err := Partition(ctx, e.model, e.par)
	if err != nil {
		return nil, 0, err
	}
	return term, Prefactor(true, e.batchSize, 0), nil
}

// Samples returns nil.
func (e *Exact) Samples() []triple.Triple {
	return nil
}

// Name implements Estimator.
func (e *Exact) Name() string {
	return "exact"
}

// ChainMode selects how the contrastive estimator obtains its samples.
type ChainMode int

// Chain modes.
const (
	// Persistent chains continue from their previous state on every refresh.
	Persistent ChainMode = iota

	// BatchSeeded chains restart from the batch: chain m from batch[m mod B].
	BatchSeeded

	// Noise replaces the chains by fresh uniform triples.
	Noise
)

// String implements fmt.Stringer.
func (c ChainMode) String() string {
	switch c {
	case Persistent:
		return "persistent"
	case BatchSeeded:
		return "batch-seeded"
	case Noise:
		return "noise"
	default:
		return fmt.Sprintf("ChainMode(%d)", int(c))
	}
}

// ContrastiveConfig configures a Contrastive estimator.
type ContrastiveConfig struct {
	Mode            ChainMode
	NumSamples      int // M, the number of chains
	GibbsIterations int // K, sweeps per refresh
	BatchSize       int // B
}

// Contrastive approximates the model term from M Gibbs chains or noise
// samples (contrastive divergence).
type Contrastive struct {
	model    energy.Model
	gibbs    *sampling.Gibbs
	rng      *rand.Rand
	cfg      ContrastiveConfig
	chains   []triple.Triple
	estimate *energy.Tensors
}

var _ Estimator = (*Contrastive)(nil)

// NewContrastive returns a contrastive estimator drawing from rng.
// Persistent chains start from uniform noise.
func NewContrastive(m energy.Model, cfg ContrastiveConfig, rng *rand.Rand) (*Contrastive, error) {
	if cfg.NumSamples < 1 || cfg.BatchSize < 1 || cfg.GibbsIterations < 0 {
		return nil, fmt.Errorf("contrastive estimator needs M >= 1, B >= 1, K >= 0; got M=%d B=%d K=%d",
			cfg.NumSamples, cfg.BatchSize, cfg.GibbsIterations)
	}
	c := &Contrastive{
		model: m,
		gibbs: sampling.NewGibbs(m, rng),
		rng:   rng,
		cfg:   cfg,
	}
	if cfg.Mode == Persistent {
		d := m.Dims()
		c.chains = sampling.Noise(d.W, d.R, cfg.NumSamples, rng)
	}
	return c, nil
}

// Refresh draws a new sample set and stores its batch gradient.
func (c *Contrastive) Refresh(ctx context.Context, batch []triple.Triple) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := c.model.Dims()

	var samples []triple.Triple
	switch c.cfg.Mode {
	case Noise:
		samples = sampling.Noise(d.W, d.R, c.cfg.NumSamples, c.rng)
	case BatchSeeded:
		if len(batch) == 0 {
			return errors.New("batch-seeded chains need a non-empty batch")
		}
		samples = make([]triple.Triple, c.cfg.NumSamples)
		for m := range samples {
			samples[m] = batch[m%len(batch)]
		}
		if err := c.gibbs.Chains(samples, c.cfg.GibbsIterations); err != nil {
			return err
		}
	case Persistent:
		samples = append([]triple.Triple(nil), c.chains...)
		if err := c.gibbs.Chains(samples, c.cfg.GibbsIterations); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown chain mode %v", c.cfg.Mode)
	}

	c.chains = samples
	c.estimate = Batch(c.model, samples)
	return nil
}

// ModelTerm returns the stored estimate weighted by B/M, refreshing first
// if no estimate exists yet.
func (c *Contrastive) ModelTerm(ctx context.Context, batch []triple.Triple) (*energy.Tensors, float64, error) {
	if c.estimate == nil {
		if err := c.Refresh(ctx, batch); err != nil {
			return nil, 0, err
		}
	}
	return c.estimate, Prefactor(false, c.cfg.BatchSize, c.cfg.NumSamples), nil
}

// Samples returns the current chain state.
func (c *Contrastive) Samples() []triple.Triple {
	return c.chains
}

// Name implements Estimator.
func (c *Contrastive) Name() string {
	return "contrastive/" + c.cfg.Mode.String()
}
