// Package trainer orchestrates approximate maximum-likelihood training of
// the bilinear energy model over a stream of triples.
//
// The first ValidationSize unique triples are held out. Every accepted
// training triple fills one of B batch slots; every S triples the model
// term estimate is refreshed, every B triples one update is committed and
// every D triples a diagnostics record is written.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"slices"
	"time"

	"github.com/ratsch/bf2/internal/energy"
	"github.com/ratsch/bf2/internal/gradient"
	"github.com/ratsch/bf2/internal/optim"
	"github.com/ratsch/bf2/internal/sampling"
	"github.com/ratsch/bf2/internal/serialization"
	"github.com/ratsch/bf2/internal/triple"
)

// State is the phase of a Trainer.
type State int

// Trainer states.
const (
	AwaitingValidation State = iota // Filling the validation set
	Training                        // Consuming training triples
	Done                            // The last Train call reached the end of its source
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case AwaitingValidation:
		return "awaiting-validation"
	case Training:
		return "training"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result summarises training so far.
type Result struct {
	Params     *energy.Params
	Validation []triple.Triple // Copy of the held-out triples, in insertion order
	Seen       int64 // Accepted training triples
	Skipped    int64 // Training triples dropped because they are held out
	Steps      int   // Committed updates

	// DiagnosticsErr joins every diagnostics write error. Training
	// continues past them.
	DiagnosticsErr error
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the structured logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(t *Trainer) {
		t.logger = l
	}
}

// WithDiagnostics writes diagnostics records to w.
func WithDiagnostics(w io.Writer) Option {
	return func(t *Trainer) {
		t.diag = &diagnosticsLog{w: w}
	}
}

// Trainer holds every piece of training state. State persists across
// Train calls, so calling Train once per epoch continues training.
//
// A Trainer is not safe for concurrent use.
type Trainer struct {
	cfg       Config
	params    *energy.Params
	model     *energy.Bilinear
	estimator gradient.Estimator
	updater   optim.Updater
	policy    gradient.Policy

	logger    *slog.Logger
	diag      *diagnosticsLog
	diagErrs  []error
	randomRng *rand.Rand

	validation *triple.Set
	batch      []triple.Triple
	seen       int64
	skipped    int64
	state      State
	start      time.Time
}

// New validates cfg and returns a trainer that updates p in place.
func New(p *energy.Params, cfg Config, opts ...Option) (*Trainer, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil parameters", ErrConfig)
	}
	t := &Trainer{
		params:     p,
		logger:     slog.New(slog.DiscardHandler),
		validation: triple.NewSet(),
		batch:      make([]triple.Triple, max(cfg.BatchSize, 0)),
	}
	for _, opt := range opts {
		opt(t)
	}

	for _, o := range cfg.resolve() {
		t.logger.Warn("mode overridden", "flag", o.Flag, "value", false, "reason", o.Reason)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	t.cfg = cfg

	t.model = energy.NewBilinear(p, cfg.Parallel)
	t.policy = gradient.Policy{
		ZeroRelationGradient: cfg.ZeroRelationGradient,
		PinRelationBias:      cfg.PinRelationBias,
	}
	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // Intentional deterministic seed for reproducibility
	// Diagnostics draw from their own source so enabling them does not
	// change the training trajectory.
	t.randomRng = rand.New(rand.NewSource(cfg.Seed ^ 0x5DEECE66D)) //nolint:gosec // Deterministic random triples

	if cfg.Exact {
		t.estimator = gradient.NewExact(t.model, cfg.BatchSize, cfg.Parallel)
	} else {
		mode := gradient.BatchSeeded
		switch {
		case cfg.Noise:
			mode = gradient.Noise
		case cfg.Persistent:
			mode = gradient.Persistent
		}
		est, err := gradient.NewContrastive(t.model, gradient.ContrastiveConfig{
			Mode:            mode,
			NumSamples:      cfg.NumSamples,
			GibbsIterations: cfg.GibbsIterations,
			BatchSize:       cfg.BatchSize,
		}, rng)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		t.estimator = est
	}

	frozen := optim.Frozen{FixWords: cfg.FixWords, FixRelations: cfg.FixRelations}
	switch cfg.Optimizer {
	case OptimizerAdam:
		t.updater = optim.NewAdam(p.Dims(), optim.AdamConfig{
			Alpha: cfg.Alpha, Mu: cfg.Mu, Nu: cfg.Nu, Eps: cfg.Epsilon, Frozen: frozen,
		})
	default:
		t.updater = optim.NewMomentum(p.Dims(), optim.MomentumConfig{
			Alpha: cfg.Alpha, Mu: cfg.Mu, Frozen: frozen,
		})
	}

	t.logger.Info("trainer ready",
		"dims", p.Dims().String(),
		"estimator", t.estimator.Name(),
		"updater", t.updater.Name(),
		"batch_size", cfg.BatchSize,
		"validation_size", cfg.ValidationSize)
	return t, nil
}

// Config returns the resolved configuration.
func (t *Trainer) Config() Config {
	return t.cfg
}

// Model returns the evaluator over the trained parameters.
func (t *Trainer) Model() *energy.Bilinear {
	return t.model
}

// State returns the current phase.
func (t *Trainer) State() State {
	return t.state
}

// StateDict returns the updater state for checkpointing.
func (t *Trainer) StateDict() []serialization.Tensor {
	return t.updater.StateDict()
}

// Updater returns the parameter updater.
func (t *Trainer) Updater() optim.Updater {
	return t.updater
}

// Train consumes src until io.EOF, an error or cancellation.
//
// Out-of-vocabulary triples and failed updates are fatal. On any error the
// returned Result still describes the parameters as of the last committed
// update.
func (t *Trainer) Train(ctx context.Context, src triple.Source) (*Result, error) {
	if t.start.IsZero() {
		t.start = time.Now()
	}
	dims := t.params.Dims()
	startSeen := t.seen

	for {
		if err := ctx.Err(); err != nil {
			return t.result(), err
		}
		x, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return t.result(), fmt.Errorf("reading triple: %w", err)
		}
		if err := x.Validate(dims.W, dims.R); err != nil {
			return t.result(), err
		}

		if t.validation.Len() < t.cfg.ValidationSize {
			t.state = AwaitingValidation
			t.validation.Add(x)
			continue
		}
		t.state = Training

		if dims.W > t.cfg.OverlapVocabularyLimit && t.validation.Contains(x) {
			t.skipped++
			continue
		}

		B := int64(t.cfg.BatchSize)
		t.batch[t.seen%B] = x
		t.seen++
		n := t.seen

		if !t.cfg.Exact && n%int64(t.cfg.SamplingRate) == 0 {
			if err := t.estimator.Refresh(ctx, t.batch); err != nil {
				return t.result(), fmt.Errorf("refreshing samples at n=%d: %w", n, err)
			}
		}
		if n%B == 0 {
			if err := t.step(ctx); err != nil {
				return t.result(), fmt.Errorf("update at n=%d: %w", n, err)
			}
		}
		if D := int64(t.cfg.DiagnosticsRate); D > 0 && n%D == 0 && n > B {
			t.diagnostics(src)
		}
	}

	t.state = Done
	t.logger.Info("training pass done",
		"seen", t.seen-startSeen,
		"total_seen", t.seen,
		"steps", t.updater.Steps(),
		"skipped", t.skipped)
	return t.result(), nil
}

// step combines the data and model terms and commits one update.
func (t *Trainer) step(ctx context.Context) error {
	data := gradient.Batch(t.model, t.batch)
	model, prefactor, err := t.estimator.ModelTerm(ctx, t.batch)
	if err != nil {
		return err
	}
	delta, err := gradient.Combine(data, model, prefactor, t.policy)
	if err != nil {
		return err
	}
	return t.updater.Step(t.params, delta)
}

// diagnostics writes one record. Failures are logged and collected.
func (t *Trainer) diagnostics(src triple.Source) {
	rec := t.Record(src)
	t.logger.Info("diagnostics",
		"n", rec.N,
		"ll", rec.LL,
		"data_energy", rec.DataEnergy,
		"model_energy", rec.ModelEnergy,
		"valiset_energy", rec.ValidationEnergy,
		"random_energy", rec.RandomEnergy)

	if t.diag == nil {
		return
	}
	if err := t.diag.write(rec); err != nil {
		t.logger.Error("diagnostics write failed", "n", rec.N, "err", err)
		t.diagErrs = append(t.diagErrs, err)
	}
}

// Record computes a diagnostics record for the current state.
//
// The log-likelihood is taken over src.All() when src is materialized and
// over the current batch otherwise. Model energy is reported for
// persistent chains only.
func (t *Trainer) Record(src triple.Source) Record {
	rec := Record{
		N:                t.seen,
		Elapsed:          time.Since(t.start),
		LL:               math.NaN(),
		DataEnergy:       energy.MeanEnergy(t.model, t.batch),
		ModelEnergy:      math.NaN(),
		ValidationEnergy: energy.MeanEnergy(t.model, t.validation.Items()),
		RandomEnergy:     math.NaN(),
		Norms:            energy.ComputeNorms(t.params),
	}

	if t.cfg.CalculateLL {
		data := t.batch
		if m, ok := src.(triple.Materialized); ok {
			data = m.All()
		}
		ll, err := energy.LogLikelihood(t.model, data)
		if err != nil {
			t.logger.Warn("log-likelihood unavailable", "n", t.seen, "err", err)
		} else {
			rec.LL = ll
		}
	}
	if t.cfg.Persistent {
		rec.ModelEnergy = energy.MeanEnergy(t.model, t.estimator.Samples())
	}
	if t.cfg.RandomProbes > 0 {
		dims := t.params.Dims()
		random := sampling.Noise(dims.W, dims.R, t.cfg.RandomProbes, t.randomRng)
		rec.RandomEnergy = energy.MeanEnergy(t.model, random)
	}
	return rec
}

func (t *Trainer) result() *Result {
	return &Result{
		Params:         t.params,
		Validation:     slices.Clone(t.validation.Items()),
		Seen:           t.seen,
		Skipped:        t.skipped,
		Steps:          t.updater.Steps(),
		DiagnosticsErr: errors.Join(t.diagErrs...),
	}
}
