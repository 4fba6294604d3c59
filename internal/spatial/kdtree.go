// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package spatial provides the radius-query index over scene coordinates.
// The index is built once at ingest from original positions and is never
// updated: fitted positions may drift within their bounds, but re-querying
// from moving positions would destabilize region convergence.
package spatial

import (
	"math"
	"sort"
)

// Point is a location in scene coordinates (arcsec offsets).
type Point [2]float64

// KDTree is a static 2-d tree. Nodes are stored as a permutation of the
// input indices laid out in subtree order: for any range [lo, hi) the median
// element is the splitting node and the halves are the children.
type KDTree struct {
	pts []Point
	ord []int32
}

// New builds the tree over the given points. The input is copied.
func New(pts [][2]float64) *KDTree {
	t := &KDTree{
		pts: make([]Point, len(pts)),
		ord: make([]int32, len(pts)),
	}
	for i := range pts {
		t.pts[i] = Point{pts[i][0], pts[i][1]}
		t.ord[i] = int32(i)
	}
	t.build(0, len(t.ord), 0)
	return t
}

// Len returns the number of indexed points.
func (t *KDTree) Len() int {
	return len(t.pts)
}

// Within returns the indices of all points within radius r of center
// (inclusive), in ascending index order for determinism.
func (t *KDTree) Within(center Point, r float64) []int {
	if r < 0 || len(t.ord) == 0 {
		return nil
	}
	var out []int
	t.search(0, len(t.ord), 0, center, r, r*r, &out)
	sort.Ints(out)
	return out
}

func (t *KDTree) search(lo, hi, axis int, c Point, r, r2 float64, out *[]int) {
	if lo >= hi {
		return
	}
	mid := (lo + hi) / 2
	i := t.ord[mid]
	p := t.pts[i]

	dx := p[0] - c[0]
	dy := p[1] - c[1]
	if dx*dx+dy*dy <= r2 {
		*out = append(*out, int(i))
	}

	// d > 0 means the query center sits right of the splitting plane.
	d := c[axis] - p[axis]
	if d <= r {
		t.search(lo, mid, 1-axis, c, r, r2, out)
	}
	if -d <= r {
		t.search(mid+1, hi, 1-axis, c, r, r2, out)
	}
}

// Nearest returns the index of the point closest to center and its distance.
// Index is -1 for an empty tree.
func (t *KDTree) Nearest(center Point) (int, float64) {
	if len(t.ord) == 0 {
		return -1, math.Inf(1)
	}
	best := -1
	bestD2 := math.Inf(1)
	t.nearest(0, len(t.ord), 0, center, &best, &bestD2)
	return best, math.Sqrt(bestD2)
}

func (t *KDTree) nearest(lo, hi, axis int, c Point, best *int, bestD2 *float64) {
	if lo >= hi {
		return
	}
	mid := (lo + hi) / 2
	i := t.ord[mid]
	p := t.pts[i]

	dx := p[0] - c[0]
	dy := p[1] - c[1]
	d2 := dx*dx + dy*dy
	if d2 < *bestD2 || (d2 == *bestD2 && int(i) < *best) {
		*best = int(i)
		*bestD2 = d2
	}

	d := c[axis] - p[axis]
	near, farLo, farHi := [2]int{lo, mid}, mid+1, hi
	if d > 0 {
		near, farLo, farHi = [2]int{mid + 1, hi}, lo, mid
	}
	t.nearest(near[0], near[1], 1-axis, c, best, bestD2)
	if d*d <= *bestD2 {
		t.nearest(farLo, farHi, 1-axis, c, best, bestD2)
	}
}

// build arranges ord[lo:hi] so the axis-median sits at the midpoint, then
// recurses into the halves on the other axis.
func (t *KDTree) build(lo, hi, axis int) {
	if hi-lo <= 1 {
		return
	}
	mid := (lo + hi) / 2
	t.selectNth(lo, hi, mid, axis)
	t.build(lo, mid, 1-axis)
	t.build(mid+1, hi, 1-axis)
}

// selectNth partially sorts ord[lo:hi] so position n holds the element that
// full sorting would put there (quickselect with median-of-three pivots).
func (t *KDTree) selectNth(lo, hi, n, axis int) {
	for hi-lo > 1 {
		p := t.medianOfThree(lo, hi, axis)
		i, j := lo, hi-1
		for i <= j {
			for t.coord(i, axis) < p {
				i++
			}
			for t.coord(j, axis) > p {
				j--
			}
			if i <= j {
				t.ord[i], t.ord[j] = t.ord[j], t.ord[i]
				i++
				j--
			}
		}
		if n <= j {
			hi = j + 1
		} else if n >= i {
			lo = i
		} else {
			return
		}
	}
}

func (t *KDTree) coord(i, axis int) float64 {
	return t.pts[t.ord[i]][axis]
}

func (t *KDTree) medianOfThree(lo, hi, axis int) float64 {
	a := t.coord(lo, axis)
	b := t.coord((lo+hi)/2, axis)
	c := t.coord(hi-1, axis)
	if a > b {
		a, b = b, a
	}
	if b > c {
		b = c
	}
	if a > b {
		b = a
	}
	return b
}
