// Copyright 2025 The bf2 Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package train runs approximate maximum-likelihood training of the
// bilinear energy model over a stream of triples.
//
// # Basic Usage
//
//	cfg := train.DefaultConfig()
//	cfg.BatchSize = 100
//	cfg.Persistent = true
//
//	tr, err := train.New(params, cfg, train.WithLogger(slog.Default()))
//	if err != nil {
//	    return err
//	}
//	for range epochs {
//	    res, err := tr.Train(ctx, train.NewSliceSource(data))
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(res.Seen, res.Steps)
//	}
//
// # Estimators
//
// The model term of the gradient comes from one of:
//   - Exact: enumerates the partition function (tiny vocabularies only)
//   - Persistent: Gibbs chains carried across updates (default)
//   - Batch-seeded: Gibbs chains restarted from the current batch
//   - Noise: uniform random triples
//
// Noise overrides Exact, and Exact overrides Persistent.
package train

import (
	"io"
	"log/slog"

	"github.com/ratsch/bf2/internal/energy"
	"github.com/ratsch/bf2/internal/trainer"
	"github.com/ratsch/bf2/internal/triple"
)

// Config holds every training option.
type Config = trainer.Config

// Trainer consumes triples and updates parameters.
type Trainer = trainer.Trainer

// Result summarises training so far.
type Result = trainer.Result

// Option configures a Trainer.
type Option = trainer.Option

// Record is one diagnostics line.
type Record = trainer.Record

// State is the phase of a Trainer.
type State = trainer.State

// Source produces triples, returning io.EOF at the end.
type Source = triple.Source

// ErrConfig reports an invalid training configuration.
var ErrConfig = trainer.ErrConfig

// Updater names.
const (
	OptimizerMomentum = trainer.OptimizerMomentum
	OptimizerAdam     = trainer.OptimizerAdam
)

// DefaultConfig returns the default training options.
func DefaultConfig() Config {
	return trainer.DefaultConfig()
}

// New returns a trainer that updates p in place.
func New(p *energy.Params, cfg Config, opts ...Option) (*Trainer, error) {
	return trainer.New(p, cfg, opts...)
}

// WithLogger sets the structured logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return trainer.WithLogger(l)
}

// WithDiagnostics writes tab-separated diagnostics records to w.
func WithDiagnostics(w io.Writer) Option {
	return trainer.WithDiagnostics(w)
}

// ReadDiagnostics parses a diagnostics log.
func ReadDiagnostics(r io.Reader) ([]Record, error) {
	return trainer.ReadDiagnostics(r)
}

// NewSliceSource returns a Source over ts.
func NewSliceSource(ts []triple.Triple) *triple.SliceSource {
	return triple.NewSliceSource(ts)
}
