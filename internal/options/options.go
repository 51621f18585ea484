// Package options reads and writes the YAML options file of a training run
// and converts it to a trainer.Config.
package options

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ratsch/bf2/internal/parallel"
	"github.com/ratsch/bf2/internal/trainer"
)

// ErrOptions reports an unreadable or invalid options file.
var ErrOptions = errors.New("invalid options")

// Options is the on-disk form of a run configuration.
//
// Per-tensor values (alpha, mu, nu) are ordered C, G, V.
type Options struct {
	Name    string `yaml:"name"`
	DPath   string `yaml:"dpath"`
	OutDir  string `yaml:"out_dir"`
	Epochs  int    `yaml:"n_epochs"`
	Online  bool   `yaml:"online"`
	Shuffle bool   `yaml:"shuffle"`

	Dimension       int `yaml:"dimension"`
	BatchSize       int `yaml:"batch_size"`
	SamplingRate    int `yaml:"sampling_rate"`
	NumSamples      int `yaml:"num_samples"`
	DiagnosticsRate int `yaml:"diagnostics_rate"`
	GibbsIterations int `yaml:"gibbs_iterations"`
	ValiSetSize     int `yaml:"vali_set_size"`

	Alpha     [3]float64 `yaml:"alpha,flow"`
	Mu        [3]float64 `yaml:"mu,flow"`
	Nu        [3]float64 `yaml:"nu,flow"`
	Epsilon   float64    `yaml:"epsilon"`
	Optimizer string     `yaml:"optimizer"`

	CalculateLL          bool `yaml:"calculate_ll"`
	FixWords             bool `yaml:"fix_words"`
	FixRelas             bool `yaml:"fix_relas"`
	Exact                bool `yaml:"exact"`
	Persistent           bool `yaml:"persistent"`
	Noise                bool `yaml:"noise"`
	ZeroRelationGradient bool `yaml:"zero_relation_gradient"`
	PinRelationBias      bool `yaml:"pin_relation_bias"`

	OverlapVocabularyLimit int   `yaml:"overlap_vocabulary_limit"`
	RandomProbes           int   `yaml:"random_probes"`
	Seed                   int64 `yaml:"seed"`
	Workers                int   `yaml:"workers"` // 0 uses every physical core
	Plot                   bool  `yaml:"plot"`
}

// Default returns the options of a run with default training settings.
func Default() Options {
	c := trainer.DefaultConfig()
	return Options{
		Name:    "bf2",
		OutDir:  ".",
		Epochs:  1,
		Shuffle: true,

		Dimension:       50,
		BatchSize:       c.BatchSize,
		SamplingRate:    c.SamplingRate,
		NumSamples:      c.NumSamples,
		DiagnosticsRate: c.DiagnosticsRate,
		GibbsIterations: c.GibbsIterations,
		ValiSetSize:     c.ValidationSize,

		Alpha:     c.Alpha,
		Mu:        c.Mu,
		Nu:        c.Nu,
		Epsilon:   c.Epsilon,
		Optimizer: c.Optimizer,

		CalculateLL:          c.CalculateLL,
		Exact:                c.Exact,
		Persistent:           c.Persistent,
		Noise:                c.Noise,
		ZeroRelationGradient: c.ZeroRelationGradient,
		PinRelationBias:      c.PinRelationBias,

		OverlapVocabularyLimit: c.OverlapVocabularyLimit,
		RandomProbes:           c.RandomProbes,
		Seed:                   c.Seed,
		Plot:                   true,
	}
}

// Decode reads options from r on top of the defaults. Unknown keys are
// rejected. Empty input yields the defaults.
func Decode(r io.Reader) (Options, error) {
	o := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, fmt.Errorf("%w: %w", ErrOptions, err)
	}
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

// Load reads an options file.
func Load(path string) (Options, error) {
	//nolint:gosec // G304: options path comes from the user
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, err
	}
	o, err := Decode(bytes.NewReader(data))
	if err != nil {
		return Options{}, fmt.Errorf("%s: %w", path, err)
	}
	return o, nil
}

// Encode writes o as YAML.
func (o Options) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(o); err != nil {
		return err
	}
	return enc.Close()
}

// Save writes o to path.
func (o Options) Save(path string) error {
	var buf bytes.Buffer
	if err := o.Encode(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// Validate checks the fields that trainer.Config does not cover.
func (o Options) Validate() error {
	if o.Dimension < 1 {
		return fmt.Errorf("%w: dimension %d must be positive", ErrOptions, o.Dimension)
	}
	if o.Epochs < 1 {
		return fmt.Errorf("%w: n_epochs %d must be positive", ErrOptions, o.Epochs)
	}
	if o.Workers < 0 {
		return fmt.Errorf("%w: workers %d must not be negative", ErrOptions, o.Workers)
	}
	return nil
}

// TrainerConfig converts o to a trainer configuration.
func (o Options) TrainerConfig() trainer.Config {
	par := parallel.DefaultConfig()
	if o.Workers > 0 {
		par.NumWorkers = o.Workers
		par.Enabled = o.Workers > 1
	}
	return trainer.Config{
		BatchSize:       o.BatchSize,
		SamplingRate:    o.SamplingRate,
		NumSamples:      o.NumSamples,
		DiagnosticsRate: o.DiagnosticsRate,
		GibbsIterations: o.GibbsIterations,
		ValidationSize:  o.ValiSetSize,

		Alpha:   o.Alpha,
		Mu:      o.Mu,
		Nu:      o.Nu,
		Epsilon: o.Epsilon,

		Optimizer:    o.Optimizer,
		FixWords:     o.FixWords,
		FixRelations: o.FixRelas,

		CalculateLL: o.CalculateLL,
		Exact:       o.Exact,
		Persistent:  o.Persistent,
		Noise:       o.Noise,

		ZeroRelationGradient: o.ZeroRelationGradient,
		PinRelationBias:      o.PinRelationBias,

		OverlapVocabularyLimit: o.OverlapVocabularyLimit,
		RandomProbes:           o.RandomProbes,
		Seed:                   o.Seed,
		Parallel:               par,
	}
}

// Prefix returns the path prefix of every output file of the run.
func (o Options) Prefix() string {
	return filepath.Join(o.OutDir, o.Name)
}
