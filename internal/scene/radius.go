// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package scene

import (
	"math"
	"sort"

	"github.com/wrensuess/forcepho/internal/catalog"
	"github.com/wrensuess/forcepho/internal/core"
	"github.com/wrensuess/forcepho/internal/spatial"
)

// RadiusParams sizes radius-based regions.
type RadiusParams struct {
	// BoundaryRadius is the candidate query radius in arcsec. Exclusivity is
	// enforced at roughly this granularity: any active candidate fails the
	// whole proposal.
	BoundaryRadius float64

	// MaxRadius caps how far out active members may sit; MinRadius floors
	// the returned patch radius. Arcsec.
	MaxRadius float64
	MinRadius float64

	// NScale converts half-light radii into the outer/inner distance margin.
	NScale float64

	// MaxActive caps the active set; the fixed set shares the same cap.
	MaxActive int
}

// RadiusBuilder proposes circular regions around a seed center. Build
// mutates nothing; the coordinator flips scheduling flags only after a
// proposal validates.
type RadiusBuilder struct {
	cat   *catalog.Catalog
	index *spatial.KDTree
	p     RadiusParams
}

// NewRadiusBuilder wires a builder to a catalog and its ingest index.
func NewRadiusBuilder(cat *catalog.Catalog, index *spatial.KDTree, p RadiusParams) *RadiusBuilder {
	return &RadiusBuilder{cat: cat, index: index, p: p}
}

// Build selects the active and fixed sets around the scene-coordinate center
// (cx, cy) and returns the patch radius in arcsec. ErrOverlapConflict is
// returned when any candidate is already claimed, or when nothing is
// admissible; both are retryable, not fatal.
func (b *RadiusBuilder) Build(cx, cy float64) (radius float64, active, fixed []int, err error) {
	kinds := b.index.Within(spatial.Point{cx, cy}, b.p.BoundaryRadius)
	if len(kinds) == 0 {
		return 0, nil, nil, core.ErrOverlapConflict.Error()
	}
	for _, k := range kinds {
		if b.cat.Record(k).IsActive {
			return 0, nil, nil, core.ErrOverlapConflict.Error()
		}
	}

	// Distances use original (ingest) positions; margins use the current
	// half-light radii.
	type cand struct {
		idx             int
		d, outer, inner float64
	}
	cands := make([]cand, len(kinds))
	for i, k := range kinds {
		x, y := b.cat.SceneXY(k)
		d := math.Hypot(x-cx, y-cy)
		m := b.p.NScale * b.cat.Record(k).Rhalf
		cands[i] = cand{idx: k, d: d, outer: d + m, inner: d - m}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].outer != cands[j].outer {
			return cands[i].outer < cands[j].outer
		}
		return cands[i].idx < cands[j].idx
	})

	nInside := 0
	for _, c := range cands {
		if c.outer < b.p.MaxRadius {
			nInside++
		}
	}
	nActive := b.p.MaxActive
	if nInside < nActive {
		nActive = nInside
	}
	if nActive == 0 {
		return 0, nil, nil, core.ErrOverlapConflict.Error()
	}

	active = make([]int, nActive)
	for i := 0; i < nActive; i++ {
		active[i] = cands[i].idx
	}
	radius = cands[nActive-1].outer
	if radius < b.p.MinRadius {
		radius = b.p.MinRadius
	}

	// Fixed context: remaining candidates whose inner edge reaches into the
	// patch, capped like the active set. Never leave a patch without context
	// when candidates remain.
	rest := cands[nActive:]
	far := 0.0
	for _, c := range rest {
		if c.inner < radius {
			fixed = append(fixed, c.idx)
			if c.d > far {
				far = c.d
			}
			if len(fixed) == b.p.MaxActive {
				break
			}
		}
	}
	if len(fixed) == 0 && len(rest) > 0 {
		fixed = []int{rest[0].idx}
		far = rest[0].d
	}
	// The returned circle must contain every member it names, fixed included;
	// selection above still uses the active-derived patch radius.
	if far > radius {
		radius = far
	}
	return radius, active, fixed, nil
}
