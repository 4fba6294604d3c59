// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package dispatch

import (
	"fmt"
	"time"

	"github.com/wrensuess/forcepho/internal/priors"
)

// Seed weighting schemes.
const (
	WeightExp     = "exp"     // favor under-iterated sources, exponential falloff
	WeightSigmoid = "sigmoid" // flat until the target, then a sharp cutoff
)

// Config encapsulates parameters for a Coordinator.
type Config struct {
	Bands []string // Flux column per band, in parameter order.

	RandSeed int64 // Seed for the random number generator.

	TargetNIter       int     // A source is done once |n_iter| reaches this.
	MaxActiveFraction float64 // The catalog is "sparse" below this claimed fraction.
	MaxActivePerPatch int     // Active-set cap per region.

	NScale         float64 // Half-light radii folded into the patch margin.
	BoundaryRadius float64 // Candidate query radius around a seed. Arcsec.
	MaxRadius      float64 // Outer-distance cap for active membership. Arcsec.
	MinRadius      float64 // Patch radius floor. Arcsec.

	UseFoF   bool    // Group sources by ROI connectivity instead of plain distance.
	Buffer   float64 // Extra padding on FoF region radii. Arcsec.
	Strict   bool    // Never split a FoF group across patches, except the first.
	MaxFixed int     // FoF fixed-set cap; zero means MaxActivePerPatch.

	Weighting string  // Seed draw scheme, WeightExp or WeightSigmoid.
	SeedSigma float64 // Iteration decay scale for the exp scheme.

	SnapshotPath string // Where flush-on-checkin writes state. Empty disables flush.
	FreeMemLimit uint64 // No ingest if free system memory drops below this (bytes).

	Bounds priors.BoundsOptions // Initial bounds derivation.
}

// Validate validates the configuration object has reasonable (not obviously
// wrong) values.
func (c *Config) Validate() error {
	if len(c.Bands) == 0 {
		return fmt.Errorf("at least one band must be configured")
	}
	if c.TargetNIter < 1 {
		return fmt.Errorf("the iteration target must be positive")
	}
	if c.MaxActiveFraction <= 0 || c.MaxActiveFraction > 1 {
		return fmt.Errorf("the max active fraction must be in (0, 1]")
	}
	if c.MaxActivePerPatch < 1 {
		return fmt.Errorf("patches must allow at least one active source")
	}
	if c.NScale <= 0 {
		return fmt.Errorf("the patch margin scale must be positive")
	}
	if c.BoundaryRadius <= 0 || c.MaxRadius <= 0 || c.MinRadius <= 0 {
		return fmt.Errorf("patch radii must be positive")
	}
	if c.MaxRadius < c.MinRadius {
		return fmt.Errorf("the max patch radius can not be below the min patch radius")
	}
	if c.Buffer < 0 {
		return fmt.Errorf("the region buffer can not be negative")
	}
	if c.MaxFixed < 0 {
		return fmt.Errorf("the fixed-set cap can not be negative")
	}
	if c.Weighting != WeightExp && c.Weighting != WeightSigmoid {
		return fmt.Errorf("unknown seed weighting scheme %q", c.Weighting)
	}
	if c.SeedSigma <= 0 {
		return fmt.Errorf("the seed weighting scale must be positive")
	}
	return nil
}

// DefaultProdConfig specifies the default values for Config that is used for
// production environment.
var DefaultProdConfig = Config{
	// Seed for the random number generator.
	RandSeed: time.Now().UnixNano(),

	// A source is done once it has accumulated this many sampling iterations.
	TargetNIter: 200,

	// Stop issuing regions once a tenth of the catalog is checked out.
	MaxActiveFraction: 0.1,

	// At most how many sources can one patch fit at a time?
	MaxActivePerPatch: 20,

	// Patch margins extend three half-light radii beyond each source.
	NScale: 3,

	// Candidate search radius around a seed (arcsec).
	BoundaryRadius: 8,

	// Active sources must fit within 6 arcsec; patches never shrink below 1.
	MaxRadius: 6,
	MinRadius: 1,

	// Extra padding beyond the outermost active source's ROI (arcsec).
	Buffer: 0.3,

	// Allow partial groups to fill remaining patch slots.
	Strict: false,

	// Bias seed draws toward under-iterated sources.
	Weighting: WeightExp,
	SeedSigma: 20,

	// We won't ingest a catalog if the amount of free system memory is
	// below this limit (bytes). The per-source state (bounds rows, a dense
	// covariance block, audit copies) is small but not free.
	FreeMemLimit: 256 * 1024 * 1024,
}

// DefaultTestConfig specifies the default values for Config that is used for
// testing environment.
var DefaultTestConfig = Config{
	// Seed for the random number generator.
	RandSeed: 31337,

	// A source is done once it has accumulated this many sampling iterations.
	TargetNIter: 100,

	// Stop issuing regions once a tenth of the catalog is checked out.
	MaxActiveFraction: 0.1,

	// At most how many sources can one patch fit at a time?
	MaxActivePerPatch: 20,

	// Patch margins extend three half-light radii beyond each source.
	NScale: 3,

	// Candidate search radius around a seed (arcsec).
	BoundaryRadius: 8,

	// Active sources must fit within 6 arcsec; patches never shrink below 1.
	MaxRadius: 6,
	MinRadius: 1,

	// Extra padding beyond the outermost active source's ROI (arcsec).
	Buffer: 0.3,

	// Allow partial groups to fill remaining patch slots.
	Strict: false,

	// Bias seed draws toward under-iterated sources.
	Weighting: WeightExp,
	SeedSigma: 20,

	// Tests must not depend on host memory pressure.
	FreeMemLimit: 0,
}
