// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package catalog

import (
	"math"
	"sort"
)

const (
	deg2rad  = math.Pi / 180.0
	rad2asec = 3600.0 / deg2rad
)

// Frame is the scene coordinate frame: a latitude/longitude frame centered
// on the catalog's median RA and Dec. Scene coordinates are angular offsets
// from that center in arcseconds.
type Frame struct {
	RA0, Dec0 float64 // degrees
}

// NewFrame centers a frame on the median of the given positions.
func NewFrame(ras, decs []float64) Frame {
	return Frame{RA0: medianOf(ras), Dec0: medianOf(decs)}
}

// SkyToScene projects (ra, dec) in degrees to scene (lon, lat) in arcsec.
// The projection is the exact spherical offset: rotate the unit vector so
// the frame center lands on the +x axis and read off longitude/latitude.
func (f Frame) SkyToScene(ra, dec float64) (float64, float64) {
	dra := (ra - f.RA0) * deg2rad
	decR := dec * deg2rad
	dec0R := f.Dec0 * deg2rad

	cx := math.Cos(decR) * math.Cos(dra)
	cy := math.Cos(decR) * math.Sin(dra)
	cz := math.Sin(decR)

	// Rotate about y to bring the center to the equator.
	x := cx*math.Cos(dec0R) + cz*math.Sin(dec0R)
	z := cz*math.Cos(dec0R) - cx*math.Sin(dec0R)
	if z > 1 {
		z = 1
	} else if z < -1 {
		z = -1
	}

	lon := math.Atan2(cy, x)
	lat := math.Asin(z)
	return lon * rad2asec, lat * rad2asec
}

// medianOf matches the usual even/odd convention: the middle value, or the
// mean of the two middle values.
func medianOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
