package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"

	"github.com/ratsch/bf2/internal/curves"
	"github.com/ratsch/bf2/internal/dataset"
	"github.com/ratsch/bf2/internal/energy"
	"github.com/ratsch/bf2/internal/options"
	"github.com/ratsch/bf2/internal/serialization"
	"github.com/ratsch/bf2/internal/trainer"
	"github.com/ratsch/bf2/internal/triple"
)

// Output file suffixes, appended to the options prefix.
const (
	suffixOptions  = "_options.yaml"
	suffixLog      = "_logfile.txt"
	suffixValiset  = "_valiset.txt"
	suffixParams   = "_params.bf2"
	suffixPlots    = "_log"
	modelTypeLabel = "bilinear"
)

// trainFlags are command line overrides of the options file.
type trainFlags struct {
	options string
	verbose bool
}

func parseTrainFlags(args []string, out io.Writer) (options.Options, trainFlags, error) {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	fs.SetOutput(out)

	var tf trainFlags
	fs.StringVar(&tf.options, "options", "", "YAML options file (defaults apply when empty)")
	fs.BoolVar(&tf.verbose, "v", false, "Debug logging")

	def := options.Default()
	data := fs.String("data", def.DPath, "Gzip triple file (first line \"W R\", then \"s r t\" lines)")
	name := fs.String("name", def.Name, "Run name, used as output file prefix")
	outDir := fs.String("out", def.OutDir, "Output directory")
	epochs := fs.Int("epochs", def.Epochs, "Passes over the data")
	dim := fs.Int("dim", def.Dimension, "Embedding dimension d")
	online := fs.Bool("online", def.Online, "Stream the data file instead of loading it")
	seed := fs.Int64("seed", def.Seed, "Random seed")
	exact := fs.Bool("exact", def.Exact, "Exact partition-function gradient (tiny vocabularies only)")
	noise := fs.Bool("noise", def.Noise, "Uniform noise samples instead of Gibbs chains")
	ll := fs.Bool("ll", def.CalculateLL, "Compute the log-likelihood in diagnostics")
	optimizer := fs.String("optimizer", def.Optimizer, "Updater: momentum or adam")
	noPlot := fs.Bool("noplot", !def.Plot, "Skip plotting the diagnostics log")

	if err := fs.Parse(args); err != nil {
		return options.Options{}, tf, err
	}

	o := def
	if tf.options != "" {
		var err error
		if o, err = options.Load(tf.options); err != nil {
			return options.Options{}, tf, err
		}
	}

	// Explicit flags override the options file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			o.DPath = *data
		case "name":
			o.Name = *name
		case "out":
			o.OutDir = *outDir
		case "epochs":
			o.Epochs = *epochs
		case "dim":
			o.Dimension = *dim
		case "online":
			o.Online = *online
		case "seed":
			o.Seed = *seed
		case "exact":
			o.Exact = *exact
		case "noise":
			o.Noise = *noise
		case "ll":
			o.CalculateLL = *ll
		case "optimizer":
			o.Optimizer = *optimizer
		case "noplot":
			o.Plot = !*noPlot
		}
	})

	if o.DPath == "" {
		return options.Options{}, tf, fmt.Errorf("%w: no data file (set dpath or -data)", options.ErrOptions)
	}
	if err := o.Validate(); err != nil {
		return options.Options{}, tf, err
	}
	return o, tf, nil
}

// run holds the open resources of one training run.
type run struct {
	opts   options.Options
	id     string
	out    io.Writer
	logger *slog.Logger

	data   *dataset.Dataset // nil when streaming
	w, r   int
	params *energy.Params
}

func runTrain(ctx context.Context, args []string, stdout io.Writer) error {
	o, tf, err := parseTrainFlags(args, stdout)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if tf.verbose {
		level = slog.LevelDebug
	}
	rn := &run{
		opts:   o,
		id:     uuid.New().String(),
		out:    stdout,
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
	rn.logger = rn.logger.With("run", rn.id)

	fmt.Fprintf(stdout, "bf2 %s - run %s\n", version, rn.id)
	fmt.Fprintf(stdout, "   CPU: %s (%d physical cores)\n", cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores)

	if err := os.MkdirAll(o.OutDir, 0o750); err != nil {
		return err
	}
	if err := o.Save(o.Prefix() + suffixOptions); err != nil {
		return fmt.Errorf("writing options: %w", err)
	}

	if err := rn.load(); err != nil {
		return err
	}
	return rn.train(ctx)
}

// load reads the data (or its header when streaming) and initialises the
// parameters.
func (rn *run) load() error {
	o := rn.opts
	//nolint:gosec // Intentional deterministic seed for reproducibility
	rng := rand.New(rand.NewSource(o.Seed))

	if o.Online {
		s, err := dataset.Open(o.DPath)
		if err != nil {
			return err
		}
		rn.w, rn.r = s.VocabSizes()
		if err := s.Close(); err != nil {
			return err
		}
		fmt.Fprintf(rn.out, "   Streaming %s: W=%d R=%d\n", o.DPath, rn.w, rn.r)
	} else {
		ds, err := dataset.ReadAll(o.DPath)
		if err != nil {
			return err
		}
		if o.Shuffle {
			ds.Shuffle(rng)
		}
		rn.data = ds
		rn.w, rn.r = ds.W, ds.R
		fmt.Fprintf(rn.out, "   Loaded %s: W=%d R=%d, %d triples\n", o.DPath, rn.w, rn.r, len(ds.Triples))
	}

	p, err := energy.Initialize(rn.w, rn.r, o.Dimension, rng)
	if err != nil {
		return err
	}
	rn.params = p
	fmt.Fprintf(rn.out, "   Parameters: %s\n", p.Dims())
	return nil
}

// source opens the data for one epoch. The returned closer is nil for
// materialized data.
func (rn *run) source() (triple.Source, io.Closer, error) {
	if rn.data != nil {
		return rn.data.Source(), nil, nil
	}
	s, err := dataset.Open(rn.opts.DPath)
	if err != nil {
		return nil, nil, err
	}
	return s, s, nil
}

func (rn *run) train(ctx context.Context) (err error) {
	o := rn.opts
	prefix := o.Prefix()

	//nolint:gosec // G304: output path comes from the user
	logFile, err := os.Create(prefix + suffixLog)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := logFile.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	tr, err := trainer.New(rn.params, o.TrainerConfig(),
		trainer.WithLogger(rn.logger),
		trainer.WithDiagnostics(logFile))
	if err != nil {
		return err
	}

	rn.printLL("before training", tr)

	var res *trainer.Result
	epoch := 0
	start := time.Now()
	for epoch < o.Epochs {
		src, closer, err := rn.source()
		if err != nil {
			return err
		}
		res, err = tr.Train(ctx, src)
		if closer != nil {
			if cerr := closer.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		if err != nil {
			// Keep what was trained so far.
			rn.logger.Error("training stopped", "epoch", epoch+1, "err", err)
			if serr := rn.save(tr, res, epoch); serr != nil {
				return errors.Join(err, serr)
			}
			return err
		}
		epoch++
		fmt.Fprintf(rn.out, "   Epoch %d/%d: %d triples seen, %d updates, %d held out skipped (%s)\n",
			epoch, o.Epochs, res.Seen, res.Steps, res.Skipped, time.Since(start).Round(time.Millisecond))
	}

	if res.DiagnosticsErr != nil {
		rn.logger.Warn("diagnostics incomplete", "err", res.DiagnosticsErr)
	}
	rn.printLL("after training", tr)

	if err := rn.save(tr, res, epoch); err != nil {
		return err
	}

	if o.Plot && o.DiagnosticsRate > 0 {
		if err := logFile.Sync(); err != nil {
			return err
		}
		written, err := curves.SaveLog(prefix+suffixLog, prefix+suffixPlots)
		switch {
		case errors.Is(err, curves.ErrNoData):
			fmt.Fprintln(rn.out, "   No diagnostics records to plot")
		case err != nil:
			rn.logger.Warn("plotting failed", "err", err)
		default:
			for _, path := range written {
				fmt.Fprintf(rn.out, "   Plot: %s\n", path)
			}
		}
	}
	return nil
}

// printLL reports the full-data log-likelihood of materialized data.
func (rn *run) printLL(when string, tr *trainer.Trainer) {
	if !rn.opts.CalculateLL || rn.data == nil {
		return
	}
	ll, err := energy.LogLikelihood(tr.Model(), rn.data.Triples)
	if err != nil {
		rn.logger.Warn("log-likelihood unavailable", "when", when, "err", err)
		return
	}
	fmt.Fprintf(rn.out, "   Log-likelihood %s: %.6g\n", when, ll)
}

// save writes the validation set and the parameter checkpoint.
func (rn *run) save(tr *trainer.Trainer, res *trainer.Result, epochs int) error {
	o := rn.opts
	prefix := o.Prefix()

	if err := writeValiset(prefix+suffixValiset, res.Validation); err != nil {
		return fmt.Errorf("writing validation set: %w", err)
	}

	cfg := tr.Config()
	header := serialization.Header{
		ModelType: modelTypeLabel,
		RunID:     rn.id,
		Metadata: map[string]string{
			"name":      o.Name,
			"data":      o.DPath,
			"dimension": strconv.Itoa(o.Dimension),
			"estimator": estimatorName(cfg),
		},
		Checkpoint: &serialization.CheckpointMeta{
			Epoch:         epochs,
			Step:          int64(res.Steps),
			Seen:          res.Seen,
			OptimizerType: tr.Updater().Name(),
			OptimizerConfig: map[string]any{
				"alpha": cfg.Alpha,
				"mu":    cfg.Mu,
				"nu":    cfg.Nu,
			},
			TrainingMeta: map[string]any{
				"batch_size":      cfg.BatchSize,
				"sampling_rate":   cfg.SamplingRate,
				"num_samples":     cfg.NumSamples,
				"validation_size": cfg.ValidationSize,
				"seed":            cfg.Seed,
			},
		},
	}
	tensors := append(res.Params.StateDict(), tr.StateDict()...)
	path := prefix + suffixParams
	if err := serialization.SaveFile(path, tensors, header); err != nil {
		return fmt.Errorf("writing parameters: %w", err)
	}
	fmt.Fprintf(rn.out, "   Saved %s (%d tensors)\n", path, len(tensors))
	return nil
}

func estimatorName(cfg trainer.Config) string {
	switch {
	case cfg.Exact:
		return "exact"
	case cfg.Noise:
		return "noise"
	case cfg.Persistent:
		return "persistent"
	default:
		return "batch-seeded"
	}
}

func writeValiset(path string, ts []triple.Triple) (err error) {
	//nolint:gosec // G304: output path comes from the user
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return dataset.WriteTriples(f, ts)
}
