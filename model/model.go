// Copyright 2025 The bf2 Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package model exposes the bilinear energy model over relational triples.
//
// Entities carry a subject embedding (row of C) and an object embedding
// (row of V), relations a square matrix G[r]. The energy of (s, r, t) is
//
//	E(s, r, t) = -V[t] · (G[r] C[s])
//
// where the last coordinate of every C and V row is a homogeneous 1 and the
// last row of every G[r] is the unit vector e_D.
//
// # Basic Usage
//
//	rng := rand.New(rand.NewSource(1))
//	p, err := model.RandomParams(w, r, 50, rng)
//	if err != nil {
//	    return err
//	}
//	m := model.NewBilinear(p, model.DefaultParallel())
//	e := m.Energy(model.Triple{S: 0, R: 2, T: 7})
package model

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ratsch/bf2/internal/energy"
	"github.com/ratsch/bf2/internal/parallel"
	"github.com/ratsch/bf2/internal/serialization"
	"github.com/ratsch/bf2/internal/triple"
)

// Triple is one (subject, relation, object) fact.
type Triple = triple.Triple

// Axis names a slot of a triple.
type Axis = triple.Axis

// Triple slots.
const (
	Subject  = triple.Subject
	Relation = triple.Relation
	Object   = triple.Object
)

// Errors.
var (
	ErrVocabulary = triple.ErrVocabulary
	ErrShape      = energy.ErrShape
	ErrNumerical  = energy.ErrNumerical
)

// Dims are the model sizes.
type Dims = energy.Dims

// Params are the trainable embeddings.
type Params = energy.Params

// Tensors is one parameter-shaped set of matrices.
type Tensors = energy.Tensors

// Model evaluates energies and gradients.
type Model = energy.Model

// Gradient is the energy gradient of one triple.
type Gradient = energy.Gradient

// Bilinear is the dense Model over Params.
type Bilinear = energy.Bilinear

// Norms are mean embedding norms.
type Norms = energy.Norms

// NewParams validates and copies existing embeddings.
func NewParams(c *mat.Dense, g []*mat.Dense, v *mat.Dense) (*Params, error) {
	return energy.NewParams(c, g, v)
}

// RandomParams draws random embeddings of dimension d.
func RandomParams(w, r, d int, rng *rand.Rand) (*Params, error) {
	return energy.RandomParams(w, r, d, rng)
}

// ParallelConfig controls how evaluators split work across goroutines.
type ParallelConfig = parallel.Config

// DefaultParallel uses one worker per physical core.
func DefaultParallel() ParallelConfig {
	return parallel.DefaultConfig()
}

// Sequential runs every evaluation on the calling goroutine.
func Sequential() ParallelConfig {
	return parallel.Sequential()
}

// NewBilinear returns an evaluator over p.
func NewBilinear(p *Params, par ParallelConfig) *Bilinear {
	return energy.NewBilinear(p, par)
}

// LogPartition returns log Z by enumerating all W*R*W triples.
func LogPartition(m Model) (float64, error) {
	return energy.LogPartition(m)
}

// LogLikelihood returns the exact log-likelihood of data.
func LogLikelihood(m Model, data []Triple) (float64, error) {
	return energy.LogLikelihood(m, data)
}

// MeanEnergy returns the mean energy of ts, or NaN when ts is empty.
func MeanEnergy(m Model, ts []Triple) float64 {
	return energy.MeanEnergy(m, ts)
}

// ComputeNorms returns the mean embedding norms of p.
func ComputeNorms(p *Params) Norms {
	return energy.ComputeNorms(p)
}

// Load reads parameters saved by the bf2 driver.
func Load(path string) (*Params, error) {
	tensors, _, err := serialization.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return energy.ParamsFromStateDict(tensors)
}
