package trainer

import (
	"errors"
	"fmt"
	"math"

	"github.com/ratsch/bf2/internal/energy"
	"github.com/ratsch/bf2/internal/parallel"
)

// ErrConfig reports an invalid training configuration.
var ErrConfig = errors.New("invalid training configuration")

// Updater names.
const (
	OptimizerMomentum = "momentum"
	OptimizerAdam     = "adam"
)

// Config holds every training option. Per-tensor hyperparameters are
// indexed by energy.Kind (C, G, V).
type Config struct {
	BatchSize       int // B: triples per parameter update
	SamplingRate    int // S: accepted triples between estimator refreshes
	NumSamples      int // M: Gibbs chains or noise samples
	DiagnosticsRate int // D: accepted triples between diagnostics records; 0 disables
	GibbsIterations int // K: sweeps per refresh
	ValidationSize  int // Unique triples held out before training starts

	Alpha   [3]float64 // Step sizes
	Mu      [3]float64 // Momentum (first moment) decay
	Nu      [3]float64 // Second moment decay (adam)
	Epsilon float64    // Adam stabiliser

	Optimizer    string // "momentum" or "adam"
	FixWords     bool   // Freeze C and V
	FixRelations bool   // Freeze G

	CalculateLL bool // Log-likelihood in diagnostics (enumerates W²R triples)
	Exact       bool // Exact partition-function gradient
	Persistent  bool // Persistent Gibbs chains
	Noise       bool // Uniform noise instead of Gibbs samples

	ZeroRelationGradient bool // Zero the whole relation delta
	PinRelationBias      bool // Zero the last column of the relation delta

	// OverlapVocabularyLimit relaxes the validation/training disjointness
	// for vocabularies of at most this many entities, where the triple
	// space is too small to hold out.
	OverlapVocabularyLimit int

	RandomProbes int   // Uniform triples averaged for random_energy
	Seed         int64 // Seed of every random draw

	Parallel parallel.Config
}

// DefaultConfig returns the default training options.
func DefaultConfig() Config {
	return Config{
		BatchSize:       100,
		SamplingRate:    100,
		NumSamples:      5,
		DiagnosticsRate: 1000,
		GibbsIterations: 1,
		ValidationSize:  1000,

		Alpha:   [3]float64{0.01, 0.01, 0.01},
		Mu:      [3]float64{0.9, 0.9, 0.9},
		Nu:      [3]float64{0.999, 0.999, 0.999},
		Epsilon: 1e-8,

		Optimizer: OptimizerMomentum,

		Persistent:           true,
		ZeroRelationGradient: true,

		OverlapVocabularyLimit: 5,
		RandomProbes:           100,
		Seed:                   1,

		Parallel: parallel.DefaultConfig(),
	}
}

// Override records a mode flag changed by precedence rules.
type Override struct {
	Flag   string
	Reason string
}

// resolve applies mode precedence: noise disables exact and persistent
// chains; exact disables persistent chains.
func (c *Config) resolve() []Override {
	var out []Override
	if c.Noise {
		if c.Exact {
			c.Exact = false
			out = append(out, Override{Flag: "exact", Reason: "noise samples replace the exact gradient"})
		}
		if c.Persistent {
			c.Persistent = false
			out = append(out, Override{Flag: "persistent", Reason: "noise samples have no chains"})
		}
	}
	if c.Exact && c.Persistent {
		c.Persistent = false
		out = append(out, Override{Flag: "persistent", Reason: "the exact gradient draws no samples"})
	}
	return out
}

// validate checks the resolved configuration.
func (c *Config) validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch size %d must be positive", ErrConfig, c.BatchSize)
	}
	if !c.Exact {
		if c.SamplingRate < 1 {
			return fmt.Errorf("%w: sampling rate %d must be positive", ErrConfig, c.SamplingRate)
		}
		if c.NumSamples < 1 {
			return fmt.Errorf("%w: number of samples %d must be positive", ErrConfig, c.NumSamples)
		}
		if c.GibbsIterations < 0 {
			return fmt.Errorf("%w: gibbs iterations %d must not be negative", ErrConfig, c.GibbsIterations)
		}
	}
	if c.DiagnosticsRate < 0 || c.ValidationSize < 0 || c.RandomProbes < 0 || c.OverlapVocabularyLimit < 0 {
		return fmt.Errorf("%w: rates and sizes must not be negative", ErrConfig)
	}

	for _, k := range energy.Kinds {
		if math.IsNaN(c.Alpha[k]) || math.IsInf(c.Alpha[k], 0) {
			return fmt.Errorf("%w: alpha for %s is %v", ErrConfig, k, c.Alpha[k])
		}
		if !(c.Mu[k] >= 0 && c.Mu[k] < 1) {
			return fmt.Errorf("%w: mu for %s is %v, want [0, 1)", ErrConfig, k, c.Mu[k])
		}
	}

	switch c.Optimizer {
	case OptimizerMomentum:
	case OptimizerAdam:
		for _, k := range energy.Kinds {
			if !(c.Nu[k] >= 0 && c.Nu[k] < 1) {
				return fmt.Errorf("%w: nu for %s is %v, want [0, 1)", ErrConfig, k, c.Nu[k])
			}
		}
		if !(c.Epsilon > 0) {
			return fmt.Errorf("%w: epsilon %v must be positive", ErrConfig, c.Epsilon)
		}
	default:
		return fmt.Errorf("%w: unknown optimizer %q", ErrConfig, c.Optimizer)
	}
	return nil
}
