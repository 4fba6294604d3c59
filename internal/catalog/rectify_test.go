// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package catalog

import (
	"math"
	"testing"
)

func TestRectifyClips(t *testing.T) {
	tbl := testTable(4)
	tbl.Col("rhalf")[0] = 0.001
	tbl.Col("rhalf")[1] = 5.0
	tbl.Col("q")[2] = 1.5
	tbl.Col("sersic")[3] = 0.2

	if err := Rectify(tbl, DefaultRectifyRanges(), false, false); err != nil {
		t.Fatalf("rectify: %v", err)
	}
	if got := tbl.Col("rhalf")[0]; got != 0.051 {
		t.Errorf("rhalf low clip: %v", got)
	}
	if got := tbl.Col("rhalf")[1]; got != 0.29 {
		t.Errorf("rhalf high clip: %v", got)
	}
	if got := tbl.Col("q")[2]; got != 0.99 {
		t.Errorf("q clip: %v", got)
	}
	if got := tbl.Col("sersic")[3]; got != 1.01 {
		t.Errorf("sersic clip: %v", got)
	}
}

func TestRectifyRotateReverse(t *testing.T) {
	tbl := testTable(2)
	tbl.Col("pa")[0] = 0.3
	tbl.Col("pa")[1] = -0.3

	if err := Rectify(tbl, DefaultRectifyRanges(), true, false); err != nil {
		t.Fatalf("rectify: %v", err)
	}
	if got := tbl.Col("pa")[0]; math.Abs(got-(0.3-math.Pi/2)) > 1e-12 {
		t.Errorf("rotate positive: %v", got)
	}
	if got := tbl.Col("pa")[1]; math.Abs(got-(-0.3+math.Pi/2)) > 1e-12 {
		t.Errorf("rotate negative: %v", got)
	}

	tbl = testTable(1)
	tbl.Col("pa")[0] = 0.4
	if err := Rectify(tbl, DefaultRectifyRanges(), false, true); err != nil {
		t.Fatalf("rectify: %v", err)
	}
	if got := tbl.Col("pa")[0]; got != -0.4 {
		t.Errorf("reverse: %v", got)
	}
}

func TestConvertPA(t *testing.T) {
	in := []float64{3 * math.Pi / 4, -3 * math.Pi / 4, 0.1, 2 * math.Pi}
	out := ConvertPA(in, false, false, false)
	want := []float64{-math.Pi / 4, math.Pi / 4, 0.1, 0}
	for i := range want {
		if math.Abs(out[i]-want[i]) > 1e-12 {
			t.Errorf("fold %d: got %v, want %v", i, out[i], want[i])
		}
	}
	// Input slice untouched.
	if in[0] != 3*math.Pi/4 {
		t.Errorf("input mutated: %v", in[0])
	}

	deg := ConvertPA([]float64{100}, true, false, false)
	if math.Abs(deg[0]-(100*math.Pi/180-math.Pi)) > 1e-12 {
		t.Errorf("degree fold: %v", deg[0])
	}
}
