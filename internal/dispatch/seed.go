// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package dispatch

import (
	"math"
	"math/rand"

	"github.com/wrensuess/forcepho/internal/catalog"
)

// Sigmoid weighting constants: a controls how fast the weight drops to zero
// past the iteration target, b shifts the half-weight point relative to it.
const (
	sigmoidA = 20.0
	sigmoidB = -1.0
)

// expWeights favors under-iterated sources with an exponential falloff around
// the catalog mean. Claimed (invalid) sources get weight zero so an in-flight
// patch can never seed another.
func expWeights(cat *catalog.Catalog, sigma float64) []float64 {
	n := cat.Len()
	mean := 0.0
	for i := 0; i < n; i++ {
		mean += math.Abs(float64(cat.Record(i).NIter))
	}
	if n > 0 {
		mean /= float64(n)
	}

	w := make([]float64, n)
	for i := range w {
		r := cat.Record(i)
		if !r.IsValid {
			continue
		}
		w[i] = math.Exp((mean - math.Abs(float64(r.NIter))) / sigma)
	}
	return w
}

// sigmoidWeights holds weights near one until a source approaches the
// iteration target, then cuts off sharply. Active sources get weight zero.
func sigmoidWeights(cat *catalog.Catalog, target int) []float64 {
	w := make([]float64, cat.Len())
	for i := range w {
		r := cat.Record(i)
		if r.IsActive {
			continue
		}
		x := sigmoidA*(1-float64(r.NIter)/float64(target)) + sigmoidB
		w[i] = 1 / (1 + math.Exp(-x))
	}
	return w
}

// drawSeed picks an index with probability proportional to its weight, or -1
// when every weight is zero.
func drawSeed(rng *rand.Rand, w []float64) int {
	total := 0.0
	for _, v := range w {
		total += v
	}
	if total <= 0 {
		return -1
	}
	u := rng.Float64() * total
	cum := 0.0
	for i, v := range w {
		cum += v
		if u < cum {
			return i
		}
	}
	// Roundoff pushed u past the last bin; take the last weighted index.
	for i := len(w) - 1; i >= 0; i-- {
		if w[i] > 0 {
			return i
		}
	}
	return -1
}
