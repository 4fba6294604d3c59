// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package catalog

import (
	"math"

	log "github.com/golang/glog"

	"github.com/wrensuess/forcepho/internal/core"
)

// RectifyRanges are the clip intervals applied to the shape columns before
// ingest. Zero values are replaced by DefaultRectifyRanges.
type RectifyRanges struct {
	Rhalf  [2]float64
	Q      [2]float64
	Sersic [2]float64
	PA     [2]float64
}

// DefaultRectifyRanges returns the standard clip intervals.
func DefaultRectifyRanges() RectifyRanges {
	return RectifyRanges{
		Rhalf:  [2]float64{0.051, 0.29},
		Q:      [2]float64{0.2, 0.99},
		Sersic: [2]float64{1.01, 4.99},
		PA:     [2]float64{-2.0, 2.0},
	}
}

// Rectify clips the shape columns of a source table in place and optionally
// rotates (+90 deg, folded back into +-pi/2) and/or reverses the position
// angles. The table must already carry the shape columns.
func Rectify(tbl *Table, ranges RectifyRanges, rotate, reverse bool) error {
	for _, c := range ShapeCols {
		if !tbl.Has(c) {
			log.Errorf("rectify: shape column %q is not present", c)
			return core.ErrSchema.Error()
		}
	}
	clipCol(tbl.Col("rhalf"), ranges.Rhalf)
	clipCol(tbl.Col("q"), ranges.Q)
	clipCol(tbl.Col("sersic"), ranges.Sersic)
	clipCol(tbl.Col("pa"), ranges.PA)

	pa := tbl.Col("pa")
	if rotate {
		rotatePA(pa)
	}
	if reverse {
		for i := range pa {
			pa[i] = -pa[i]
		}
	}
	return nil
}

// ConvertPA folds position angles into the interval [-pi/2, pi/2], with
// optional degree input, rotation, and reversal. The fold is bounded so a
// wildly out-of-range value cannot spin forever.
func ConvertPA(paIn []float64, fromDeg, rotate, reverse bool) []float64 {
	const maxTry = 4
	pa := make([]float64, len(paIn))
	for i, v := range paIn {
		if fromDeg {
			v *= deg2rad
		}
		for try := 0; try < maxTry && (v > math.Pi/2 || v < -math.Pi/2); try++ {
			if v > math.Pi/2 {
				v -= math.Pi
			} else {
				v += math.Pi
			}
		}
		pa[i] = v
	}
	if rotate {
		rotatePA(pa)
	}
	if reverse {
		for i := range pa {
			pa[i] = -pa[i]
		}
	}
	return pa
}

// rotatePA adds 90 degrees while staying inside [-pi/2, pi/2].
func rotatePA(pa []float64) {
	for i, v := range pa {
		if v > 0 {
			pa[i] = v - math.Pi/2
		} else {
			pa[i] = v + math.Pi/2
		}
	}
}

func clipCol(col []float64, r [2]float64) {
	for i, v := range col {
		if v < r[0] {
			col[i] = r[0]
		} else if v > r[1] {
			col[i] = r[1]
		}
	}
}
