// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package scene

import (
	"testing"

	"github.com/wrensuess/forcepho/internal/catalog"
	"github.com/wrensuess/forcepho/internal/spatial"
)

// lineCatalog places records at arcsec offsets (xs, ys) from a dec=0 field
// center, so scene distances equal plain coordinate differences. roi may be
// nil to fall back to the half-light radii.
func lineCatalog(t *testing.T, xs, ys, rhalf, roi []float64) (*catalog.Catalog, *spatial.KDTree) {
	t.Helper()
	n := len(xs)
	tbl := catalog.NewTable(n)
	ra := make([]float64, n)
	dec := make([]float64, n)
	idx := make([]float64, n)
	for i := range xs {
		ra[i] = 180.0 + xs[i]/3600.0
		dec[i] = ys[i] / 3600.0
		idx[i] = float64(i)
	}
	tbl.Set("ra", ra)
	tbl.Set("dec", dec)
	tbl.Set("rhalf", rhalf)
	tbl.Set("source_index", idx)
	tbl.SetConst("q", 0.8)
	tbl.SetConst("pa", 0.0)
	tbl.SetConst("sersic", 2.0)
	tbl.SetConst("is_active", 0)
	tbl.SetConst("is_valid", 1)
	tbl.SetConst("n_iter", 0)
	tbl.SetConst("n_patch", 0)
	tbl.SetConst("f200w", 10.0)
	cat, err := catalog.Ingest(tbl, []string{"f200w"}, catalog.IngestOptions{ROI: roi})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	return cat, spatial.New(cat.SceneCoords())
}

func constSlice(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func eqInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func asSet(a []int) map[int]bool {
	m := make(map[int]bool, len(a))
	for _, v := range a {
		m[v] = true
	}
	return m
}

func TestRegionContains(t *testing.T) {
	f := catalog.NewFrame([]float64{180.0}, []float64{0.0})
	r := Region{RA: 180.0, Dec: 0.0, Radius: 5.0}

	x, y := f.SkyToScene(180.0+4.0/3600.0, 0.0)
	if !r.Contains(f, x, y, 0) {
		t.Errorf("point 4 arcsec out should be inside a 5 arcsec region")
	}
	x, y = f.SkyToScene(180.0+6.0/3600.0, 0.0)
	if r.Contains(f, x, y, 0) {
		t.Errorf("point 6 arcsec out should be outside a 5 arcsec region")
	}
	if !r.Contains(f, x, y, 1.5) {
		t.Errorf("tolerance of 1.5 arcsec should admit the 6 arcsec point")
	}
}

func TestRegionRadiusDeg(t *testing.T) {
	r := Region{RA: 53.0, Dec: -27.8, Radius: 7.2}
	if got, want := r.RadiusDeg(), 0.002; got != want {
		t.Errorf("expected radius %g deg, got %g", want, got)
	}
}
