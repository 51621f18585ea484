// Package main provides the bf2 command line driver.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
)

const version = "v0.1.0"

func usage(w io.Writer) {
	fmt.Fprintln(w, "bf2 - bilinear energy model for relational triples")
	fmt.Fprintf(w, "Version: %s\n\n", version)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  train      Train embeddings on a triple file")
	fmt.Fprintln(w, "  eval       Score a triple file with saved parameters")
	fmt.Fprintln(w, "  plot       Plot a diagnostics log")
	fmt.Fprintln(w, "  version    Show version")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'bf2 <command> -h' for command flags.")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "train":
		err = runTrain(ctx, args, os.Stdout)
	case "eval":
		err = runEval(args, os.Stdout)
	case "plot":
		err = runPlot(args, os.Stdout)
	case "version":
		fmt.Printf("bf2 %s\n", version)
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		usage(os.Stderr)
		stop()
		os.Exit(2)
	}

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		stop()
		log.Fatalf("bf2 %s: %v", os.Args[1], err)
	}
}
