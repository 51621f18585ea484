package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/ratsch/bf2/internal/curves"
	"github.com/ratsch/bf2/internal/dataset"
	"github.com/ratsch/bf2/internal/energy"
	"github.com/ratsch/bf2/internal/parallel"
	"github.com/ratsch/bf2/internal/serialization"
)

func runEval(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	fs.SetOutput(stdout)
	paramsPath := fs.String("params", "", "Parameter file written by train")
	data := fs.String("data", "", "Gzip triple file to score")
	ll := fs.Bool("ll", false, "Also compute the log-likelihood (enumerates W*W*R triples)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *paramsPath == "" || *data == "" {
		return errors.New("both -params and -data are required")
	}

	tensors, header, err := serialization.LoadFile(*paramsPath)
	if err != nil {
		return err
	}
	p, err := energy.ParamsFromStateDict(tensors)
	if err != nil {
		return fmt.Errorf("%s: %w", *paramsPath, err)
	}
	ds, err := dataset.ReadAll(*data)
	if err != nil {
		return err
	}
	dims := p.Dims()
	if ds.W != dims.W || ds.R != dims.R {
		return fmt.Errorf("%s has W=%d R=%d, parameters have W=%d R=%d", *data, ds.W, ds.R, dims.W, dims.R)
	}
	for _, t := range ds.Triples {
		if err := t.Validate(dims.W, dims.R); err != nil {
			return fmt.Errorf("%s: %w", *data, err)
		}
	}

	m := energy.NewBilinear(p, parallel.DefaultConfig())
	fmt.Fprintf(stdout, "Model %s (%s), run %s\n", header.ModelType, dims, header.RunID)
	if cp := header.Checkpoint; cp != nil {
		fmt.Fprintf(stdout, "   Trained %d epochs, %d updates, %d triples (%s)\n", cp.Epoch, cp.Step, cp.Seen, cp.OptimizerType)
	}
	fmt.Fprintf(stdout, "   Triples: %d\n", len(ds.Triples))
	fmt.Fprintf(stdout, "   Mean energy: %.6g\n", energy.MeanEnergy(m, ds.Triples))
	norms := energy.ComputeNorms(p)
	fmt.Fprintf(stdout, "   Norms: C=%.4g G=%.4g V=%.4g\n", norms.C, norms.G, norms.V)

	if *ll {
		v, err := energy.LogLikelihood(m, ds.Triples)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "   Log-likelihood: %.6g\n", v)
	}
	return nil
}

func runPlot(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	fs.SetOutput(stdout)
	logPath := fs.String("log", "", "Diagnostics log written by train")
	prefix := fs.String("prefix", "", "Output prefix (defaults to the log path)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *logPath == "" {
		return errors.New("-log is required")
	}
	if *prefix == "" {
		*prefix = *logPath
	}

	written, err := curves.SaveLog(*logPath, *prefix)
	for _, path := range written {
		fmt.Fprintf(stdout, "Plot: %s\n", path)
	}
	return err
}
