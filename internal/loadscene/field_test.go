// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package loadscene

import (
	"math"
	"testing"

	"github.com/wrensuess/forcepho/internal/catalog"
	"github.com/wrensuess/forcepho/internal/core"
	"github.com/wrensuess/forcepho/internal/dispatch"
)

// TestBuildFieldShape checks row counts and the presence of every column
// ingest requires.
func TestBuildFieldShape(t *testing.T) {
	fc := DefaultFieldConfig
	fc.NClusters = 3
	fc.NPerCluster = 4

	tbl, err := BuildField(fc)
	if err != nil {
		t.Fatalf("failed to build the field: %s", err)
	}
	if tbl.N != 12 {
		t.Fatalf("field has %d rows, want 12", tbl.N)
	}
	cols := []string{
		"ra", "dec", "q", "pa", "sersic", "rhalf",
		"source_index", "is_active", "is_valid", "n_iter", "n_patch",
		"f200w",
	}
	for _, col := range cols {
		if !tbl.Has(col) {
			t.Fatalf("field is missing column %q", col)
		}
	}
	for i, v := range tbl.Col("ra") {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("row %d has a non-finite ra", i)
		}
	}
}

// TestBuildFieldClustering checks that cluster members land near their
// center: the point of the layout is to make checkouts contend.
func TestBuildFieldClustering(t *testing.T) {
	fc := DefaultFieldConfig
	fc.NClusters = 2
	fc.NPerCluster = 16
	fc.ClusterSigma = 0.5

	tbl, err := BuildField(fc)
	if err != nil {
		t.Fatalf("failed to build the field: %s", err)
	}

	// Both clusters were drawn inside an 80 arcsec half-width field, so
	// members of one cluster must sit within a few sigma of each other.
	dec := tbl.Col("dec")
	for c := 0; c < 2; c++ {
		base := dec[c*16]
		for m := 1; m < 16; m++ {
			d := math.Abs(dec[c*16+m]-base) * 3600.0
			if d > 10*fc.ClusterSigma {
				t.Fatalf("cluster %d member %d is %f arcsec from its first member", c, m, d)
			}
		}
	}
}

// TestBuildFieldIngestable feeds a generated field through a real ingest and
// bounds check. The default variates must sit strictly inside the default
// fitting bounds or every load run would fail its final sweep.
func TestBuildFieldIngestable(t *testing.T) {
	tbl, err := BuildField(DefaultFieldConfig)
	if err != nil {
		t.Fatalf("failed to build the field: %s", err)
	}

	cfg := dispatch.DefaultTestConfig
	cfg.Bands = DefaultFieldConfig.Bands
	co, err := dispatch.New(cfg)
	if err != nil {
		t.Fatalf("failed to make a coordinator: %s", err)
	}
	if err := co.Ingest(tbl, catalog.IngestOptions{}); err != nil {
		t.Fatalf("generated field failed ingest: %s", err)
	}
	if got := co.Stats().NSources; got != tbl.N {
		t.Fatalf("ingested %d sources, want %d", got, tbl.N)
	}
	if err := co.CheckBounds(); err != nil {
		t.Fatalf("fresh field violates its own bounds: %s", err)
	}
}

// TestBuildFieldRejectsBadConfig checks config validation.
func TestBuildFieldRejectsBadConfig(t *testing.T) {
	fc := DefaultFieldConfig
	fc.NClusters = 0
	if _, err := BuildField(fc); !core.ErrBadConfig.Is(err) {
		t.Fatalf("zero clusters built a field: %v", err)
	}

	fc = DefaultFieldConfig
	fc.Bands = nil
	if _, err := BuildField(fc); !core.ErrBadConfig.Is(err) {
		t.Fatalf("a field with no bands built: %v", err)
	}

	fc = DefaultFieldConfig
	fc.FieldRadius = -2
	if _, err := BuildField(fc); !core.ErrBadConfig.Is(err) {
		t.Fatalf("a negative field radius built: %v", err)
	}
}
