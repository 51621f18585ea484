package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratsch/bf2/internal/dataset"
	"github.com/ratsch/bf2/internal/energy"
	"github.com/ratsch/bf2/internal/options"
	"github.com/ratsch/bf2/internal/serialization"
	"github.com/ratsch/bf2/internal/triple"
)

const toyOptions = `
name: toy
dimension: 3
batch_size: 5
sampling_rate: 5
num_samples: 4
diagnostics_rate: 10
vali_set_size: 0
calculate_ll: true
random_probes: 10
workers: 1
n_epochs: 2
`

func toyData(t *testing.T, dir string) string {
	t.Helper()
	var ts []triple.Triple
	for i := 0; i < 8; i++ {
		for s := 0; s < 5; s++ {
			ts = append(ts, triple.Triple{S: s, R: 0, T: (s + i) % 5})
		}
	}
	path := filepath.Join(dir, "toy.txt.gz")
	require.NoError(t, dataset.WriteFile(path, 5, 1, ts))
	return path
}

func TestRunTrain(t *testing.T) {
	dir := t.TempDir()
	data := toyData(t, dir)
	optsPath := filepath.Join(dir, "in.yaml")
	require.NoError(t, os.WriteFile(optsPath, []byte(toyOptions), 0o600))

	var out bytes.Buffer
	err := runTrain(context.Background(), []string{"-options", optsPath, "-data", data, "-out", dir}, &out)
	require.NoError(t, err, out.String())

	prefix := filepath.Join(dir, "toy")
	for _, suffix := range []string{suffixOptions, suffixLog, suffixValiset, suffixParams, "_log_energy.png", "_log_lens.png", "_log_ll.png"} {
		assert.FileExists(t, prefix+suffix)
	}
	assert.Contains(t, out.String(), "Log-likelihood before training")
	assert.Contains(t, out.String(), "Epoch 2/2: 80 triples seen, 16 updates")

	echo, err := options.Load(prefix + suffixOptions)
	require.NoError(t, err)
	assert.Equal(t, data, echo.DPath, "flags override the options file")
	assert.Equal(t, 2, echo.Epochs)

	tensors, header, err := serialization.LoadFile(prefix + suffixParams)
	require.NoError(t, err)
	assert.Equal(t, "bilinear", header.ModelType)
	assert.NotEmpty(t, header.RunID)
	require.NotNil(t, header.Checkpoint)
	assert.Equal(t, 2, header.Checkpoint.Epoch)
	assert.Equal(t, int64(16), header.Checkpoint.Step)
	assert.Equal(t, int64(80), header.Checkpoint.Seen)
	assert.Equal(t, "momentum", header.Checkpoint.OptimizerType)

	p, err := energy.ParamsFromStateDict(tensors)
	require.NoError(t, err)
	assert.Equal(t, energy.Dims{W: 5, R: 1, D: 4}, p.Dims())

	out.Reset()
	require.NoError(t, runEval([]string{"-params", prefix + suffixParams, "-data", data, "-ll"}, &out))
	assert.Contains(t, out.String(), "Mean energy")
	assert.Contains(t, out.String(), "Log-likelihood")

	out.Reset()
	plotPrefix := filepath.Join(dir, "again")
	require.NoError(t, runPlot([]string{"-log", prefix + suffixLog, "-prefix", plotPrefix}, &out))
	assert.FileExists(t, plotPrefix+"_energy.png")
}

func TestRunTrain_Online(t *testing.T) {
	dir := t.TempDir()
	data := toyData(t, dir)
	optsPath := filepath.Join(dir, "in.yaml")
	require.NoError(t, os.WriteFile(optsPath, []byte(toyOptions), 0o600))

	var out bytes.Buffer
	err := runTrain(context.Background(),
		[]string{"-options", optsPath, "-data", data, "-out", dir, "-online", "-noplot", "-name", "stream"}, &out)
	require.NoError(t, err, out.String())

	assert.Contains(t, out.String(), "Streaming")
	assert.NotContains(t, out.String(), "Log-likelihood before training", "streamed data is not materialized")
	assert.FileExists(t, filepath.Join(dir, "stream"+suffixParams))
	assert.NoFileExists(t, filepath.Join(dir, "stream_log_energy.png"))
}

func TestRunTrain_Errors(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	err := runTrain(context.Background(), []string{"-out", dir}, &out)
	assert.ErrorIs(t, err, options.ErrOptions, "no data file")

	err = runTrain(context.Background(), []string{"-data", filepath.Join(dir, "missing.gz"), "-out", dir}, &out)
	assert.Error(t, err)

	err = runTrain(context.Background(), []string{"-data", toyData(t, dir), "-out", dir, "-dim", "0"}, &out)
	assert.ErrorIs(t, err, options.ErrOptions)
}

func TestRunEval_RequiresFlags(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, runEval(nil, &out))
	assert.Error(t, runPlot(nil, &out))
}
