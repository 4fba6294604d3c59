// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package priors keeps the per-record prior bound intervals and the
// per-record covariance blocks used to seed and constrain each fit.
package priors

import (
	"math"

	log "github.com/golang/glog"

	"github.com/wrensuess/forcepho/internal/catalog"
	"github.com/wrensuess/forcepho/internal/core"
)

// Interval is a (lower, upper) bound pair.
type Interval [2]float64

// Bounds holds one interval per record per parameter column, in catalog row
// order and schema parameter order (bands, then shapes).
type Bounds struct {
	schema catalog.Schema
	params []string
	byName map[string]int
	rows   [][]Interval
}

// BoundsOptions carries the knobs for MakeBounds. Zero values take the
// defaults from DefaultBoundsOptions.
type BoundsOptions struct {
	// NSigFlux is the number of flux sigmas for the prior half-width.
	NSigFlux float64

	// DPos is the positional half-width (ra, dec) in arcsec. When zero it is
	// NPix*PixScale in both axes.
	DPos     [2]float64
	NPix     float64
	PixScale float64

	// Fixed shape ranges.
	QRange      [2]float64
	PARange     [2]float64
	RhalfRange  [2]float64
	SersicRange [2]float64

	// Unc optionally supplies per-band flux uncertainties (column name to
	// per-record sigma). Bands without an entry fall back to the S/N
	// heuristic.
	Unc map[string][]float64
}

// DefaultBoundsOptions returns the standard prior configuration.
func DefaultBoundsOptions() BoundsOptions {
	return BoundsOptions{
		NSigFlux:    5.0,
		NPix:        2.0,
		PixScale:    0.03,
		QRange:      [2]float64{0.4, 1.0},
		PARange:     [2]float64{-0.6 * math.Pi, 0.6 * math.Pi},
		RhalfRange:  [2]float64{0.03, 0.3},
		SersicRange: [2]float64{1.0, 5.0},
	}
}

func (o *BoundsOptions) fillDefaults() {
	d := DefaultBoundsOptions()
	if o.NSigFlux == 0 {
		o.NSigFlux = d.NSigFlux
	}
	if o.NPix == 0 {
		o.NPix = d.NPix
	}
	if o.PixScale == 0 {
		o.PixScale = d.PixScale
	}
	if o.DPos == ([2]float64{}) {
		w := o.NPix * o.PixScale
		o.DPos = [2]float64{w, w}
	}
	if o.QRange == ([2]float64{}) {
		o.QRange = d.QRange
	}
	if o.PARange == ([2]float64{}) {
		o.PARange = d.PARange
	}
	if o.RhalfRange == ([2]float64{}) {
		o.RhalfRange = d.RhalfRange
	}
	if o.SersicRange == ([2]float64{}) {
		o.SersicRange = d.SersicRange
	}
}

// MakeBounds derives the initial bounds catalog: flux intervals from
// uncertainties or the S/N heuristic, positions from the pixel half-width,
// and fixed ranges for the shape columns.
func MakeBounds(cat *catalog.Catalog, opts BoundsOptions) *Bounds {
	opts.fillDefaults()
	schema := cat.Schema()
	b := newBounds(schema, cat.Len())

	bands := schema.Bands()
	for bi, band := range bands {
		if unc, ok := opts.Unc[band]; ok && len(unc) == cat.Len() {
			for i := 0; i < cat.Len(); i++ {
				f := cat.Record(i).Flux[bi]
				sigma := unc[i]
				// Floor the uncertainty at 5% of the flux guess.
				if m := math.Abs(0.05 * f); sigma < m {
					sigma = m
				}
				b.rows[i][bi] = Interval{f - opts.NSigFlux*sigma, f + opts.NSigFlux*sigma}
			}
			continue
		}
		fluxes := make([]float64, cat.Len())
		for i := range fluxes {
			fluxes[i] = cat.Record(i).Flux[bi]
		}
		lo, hi := FluxBounds(fluxes, opts.NSigFlux)
		for i := range fluxes {
			b.rows[i][bi] = Interval{lo[i], hi[i]}
		}
	}

	nb := schema.NBands()
	for i := 0; i < cat.Len(); i++ {
		r := cat.Record(i)
		dra := opts.DPos[0] / 3600.0 / math.Cos(r.Dec*math.Pi/180)
		ddec := opts.DPos[1] / 3600.0
		row := b.rows[i]
		row[nb+0] = Interval{r.RA - dra, r.RA + dra}
		row[nb+1] = Interval{r.Dec - ddec, r.Dec + ddec}
		row[nb+2] = Interval(opts.QRange)
		row[nb+3] = Interval(opts.PARange)
		row[nb+4] = Interval(opts.SersicRange)
		row[nb+5] = Interval(opts.RhalfRange)
	}
	return b
}

// FluxBounds is the crude S/N heuristic used when no uncertainties are
// supplied: noise = unc1*sqrt(|f|), the lower bound dips to -fmin for faint
// sources, and non-finite results are patched to keep every interval usable.
func FluxBounds(flux []float64, unc1 float64) (lo, hi []float64) {
	lo = make([]float64, len(flux))
	hi = make([]float64, len(flux))
	fmin := (unc1 / 2) * (unc1 / 2)

	maxHi := math.Inf(-1)
	for i, f := range flux {
		snr := math.Sqrt(math.Abs(f)) / unc1
		noise := math.Abs(f) / snr // NaN when f == 0
		l := f - noise
		h := f + noise
		if f <= fmin && l > -fmin {
			l = -fmin
		}
		if math.IsNaN(l) || math.IsInf(l, 0) {
			l = 0
		}
		if h < fmin {
			h = fmin
		}
		lo[i] = l
		hi[i] = h
		if !math.IsNaN(h) && !math.IsInf(h, 0) && h > maxHi {
			maxHi = h
		}
	}
	if math.IsInf(maxHi, -1) {
		maxHi = fmin
	}
	for i, h := range hi {
		if math.IsNaN(h) || math.IsInf(h, 0) {
			hi[i] = maxHi
		}
	}
	return lo, hi
}

func newBounds(schema catalog.Schema, n int) *Bounds {
	params := schema.Params()
	byName := make(map[string]int, len(params))
	for i, p := range params {
		byName[p] = i
	}
	rows := make([][]Interval, n)
	for i := range rows {
		rows[i] = make([]Interval, len(params))
	}
	return &Bounds{schema: schema, params: params, byName: byName, rows: rows}
}

// Len returns the number of rows.
func (b *Bounds) Len() int {
	return len(b.rows)
}

// Params returns the parameter columns in vector order.
func (b *Bounds) Params() []string {
	return append([]string(nil), b.params...)
}

// Get returns the interval for one record and parameter.
func (b *Bounds) Get(i int, name string) (Interval, bool) {
	j, ok := b.byName[name]
	if !ok || i < 0 || i >= len(b.rows) {
		return Interval{}, false
	}
	return b.rows[i][j], true
}

// Set overwrites the interval for one record and parameter.
func (b *Bounds) Set(i int, name string, iv Interval) bool {
	j, ok := b.byName[name]
	if !ok || i < 0 || i >= len(b.rows) {
		return false
	}
	b.rows[i][j] = iv
	return true
}

// Row returns a copy of record i's intervals in parameter order.
func (b *Bounds) Row(i int) []Interval {
	return append([]Interval(nil), b.rows[i]...)
}

// Rows returns copies of the given records' intervals.
func (b *Bounds) Rows(indices []int) [][]Interval {
	out := make([][]Interval, len(indices))
	for k, i := range indices {
		out[k] = b.Row(i)
	}
	return out
}

// SetRow replaces record i's intervals. The row must have one interval per
// parameter.
func (b *Bounds) SetRow(i int, row []Interval) error {
	if i < 0 || i >= len(b.rows) {
		return core.ErrBadRecordKey.Error()
	}
	if len(row) != len(b.params) {
		log.Errorf("bounds row for record %d has %d intervals, want %d", i, len(row), len(b.params))
		return core.ErrBoundsViolation.Error()
	}
	copy(b.rows[i], row)
	return nil
}

// CheckBounds verifies that every parameter of every record lies strictly
// inside its interval. The first violation is returned; nothing is clamped.
func CheckBounds(cat *catalog.Catalog, b *Bounds) error {
	schema := cat.Schema()
	for i := 0; i < cat.Len(); i++ {
		r := cat.Record(i)
		for j, name := range b.params {
			v, _ := r.Param(schema, name)
			iv := b.rows[i][j]
			if !(v > iv[0] && v < iv[1]) {
				log.Errorf("bounds violation: record %d column %q value %v outside (%v, %v)",
					i, name, v, iv[0], iv[1])
				return core.ErrBoundsViolation.Error()
			}
		}
	}
	return nil
}

// AdjustOptions widens flux bounds after the fact: MinFlux pushes lower
// bounds down to at most MinFlux, MaxFluxFactor raises upper bounds to at
// least factor*flux, and Clamp pulls the record fluxes into the (slightly
// shrunk) interval.
type AdjustOptions struct {
	MinFlux       *float64
	MaxFluxFactor float64
	Clamp         bool
	Eps           float64
}

// AdjustBounds applies AdjustOptions to every record and re-checks the
// catalog against the result.
func AdjustBounds(cat *catalog.Catalog, b *Bounds, opts AdjustOptions) error {
	if opts.Eps == 0 {
		opts.Eps = 0.001
	}
	bands := b.schema.Bands()
	for i := 0; i < cat.Len(); i++ {
		r := cat.Record(i)
		for bi, band := range bands {
			j := b.byName[band]
			iv := b.rows[i][j]
			if opts.MinFlux != nil && iv[0] > *opts.MinFlux {
				iv[0] = *opts.MinFlux
			}
			if opts.MaxFluxFactor > 0 {
				if u := r.Flux[bi] * opts.MaxFluxFactor; u > iv[1] {
					iv[1] = u
				}
			}
			b.rows[i][j] = iv
			if opts.Clamp {
				f := r.Flux[bi]
				if f < iv[0]+opts.Eps {
					f = iv[0] + opts.Eps
				}
				if f > iv[1]-opts.Eps {
					f = iv[1] - opts.Eps
				}
				r.Flux[bi] = f
			}
		}
	}
	return CheckBounds(cat, b)
}

// BoundsVectors flattens the bounds of the given records into lower/upper
// vectors in parameter order, with positions re-expressed relative to the
// reference coordinates.
func BoundsVectors(b *Bounds, indices []int, refRA, refDec float64) (lower, upper []float64) {
	lower = make([]float64, 0, len(indices)*len(b.params))
	upper = make([]float64, 0, len(indices)*len(b.params))
	for _, i := range indices {
		for j, name := range b.params {
			iv := b.rows[i][j]
			switch name {
			case "ra":
				iv[0] -= refRA
				iv[1] -= refRA
			case "dec":
				iv[0] -= refDec
				iv[1] -= refDec
			}
			lower = append(lower, iv[0])
			upper = append(upper, iv[1])
		}
	}
	return lower, upper
}
