// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package scene builds spatially bounded work units: given a seed, select a
// maximal-but-bounded set of mutually interacting records to activate plus a
// surrounding set of fixed context records. Two variants: radius-based and
// friends-of-friends connectivity.
package scene

import (
	"math"

	"github.com/wrensuess/forcepho/internal/catalog"
)

// Region is the sky circle bounding one unit of work: center in degrees,
// radius in arcsec. Regions live for a single checkout/checkin cycle and are
// never persisted.
type Region struct {
	RA, Dec float64
	Radius  float64
}

// RadiusDeg returns the radius in degrees.
func (r Region) RadiusDeg() float64 {
	return r.Radius / 3600.0
}

// Contains reports whether the scene point (x, y) lies inside the region
// under the given frame, within tol arcsec.
func (r Region) Contains(f catalog.Frame, x, y, tol float64) bool {
	cx, cy := f.SkyToScene(r.RA, r.Dec)
	return math.Hypot(x-cx, y-cy) <= r.Radius+tol
}
