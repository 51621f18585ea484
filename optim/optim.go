// Copyright 2025 The bf2 Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the parameter updaters of the bilinear model.
//
// # Overview
//
// Updaters take a gradient-ascent direction (data term minus model term)
// and apply it to parameters in place:
//   - Momentum: classical momentum, vel = mu*vel + (1-mu)*delta; x += alpha*vel
//   - Adam: bias-corrected first and second moments
//
// Hyperparameters are per tensor, indexed C, G, V. An update is committed
// only if every resulting value is finite.
//
// # Basic Usage
//
//	updater := optim.NewMomentum(params.Dims(), optim.MomentumConfig{
//	    Alpha: [3]float64{0.01, 0.01, 0.01},
//	    Mu:    [3]float64{0.9, 0.9, 0.9},
//	})
//	if err := updater.Step(params, delta); err != nil {
//	    return err
//	}
package optim

import (
	"github.com/ratsch/bf2/internal/energy"
	"github.com/ratsch/bf2/internal/optim"
)

// Updater applies ascent directions to parameters.
type Updater = optim.Updater

// Frozen selects tensors an updater leaves untouched.
type Frozen = optim.Frozen

// ErrNonFinite reports an update that would produce a non-finite value.
var ErrNonFinite = optim.ErrNonFinite

// Momentum is the classical-momentum updater.
type Momentum = optim.Momentum

// MomentumConfig contains configuration for the momentum updater.
type MomentumConfig = optim.MomentumConfig

// NewMomentum creates a momentum updater with zero velocity.
func NewMomentum(dims energy.Dims, cfg MomentumConfig) *Momentum {
	return optim.NewMomentum(dims, cfg)
}

// Adam is the adaptive-moment updater.
type Adam = optim.Adam

// AdamConfig contains configuration for the Adam updater.
type AdamConfig = optim.AdamConfig

// NewAdam creates an Adam updater with zero moments.
func NewAdam(dims energy.Dims, cfg AdamConfig) *Adam {
	return optim.NewAdam(dims, cfg)
}
