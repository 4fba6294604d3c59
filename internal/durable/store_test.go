// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package durable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/boltdb/bolt"

	"github.com/wrensuess/forcepho/internal/catalog"
	"github.com/wrensuess/forcepho/internal/core"
	"github.com/wrensuess/forcepho/internal/priors"
)

// testSnapshot builds a small, fully populated snapshot: three sources, one
// band, bounds and covariance blocks for the seven-parameter schema, and a
// couple of log entries.
func testSnapshot() *Snapshot {
	tbl := catalog.NewTable(3)
	tbl.Cols["source_index"] = []float64{0, 1, 2}
	tbl.Cols["ra"] = []float64{180.001, 180.002, 180.003}
	tbl.Cols["dec"] = []float64{-0.001, 0, 0.001}
	tbl.Cols["q"] = []float64{0.7, 0.8, 0.9}
	tbl.Cols["pa"] = []float64{-0.1, 0, 0.1}
	tbl.Cols["sersic"] = []float64{2, 2.5, 3}
	tbl.Cols["rhalf"] = []float64{0.05, 0.1, 0.15}
	tbl.Cols["roi"] = []float64{0.3, 0.4, 0.5}
	tbl.Cols["f200w"] = []float64{10, 20, 30}
	tbl.Cols["is_active"] = []float64{0, 1, 0}
	tbl.Cols["is_valid"] = []float64{1, 0, 1}
	tbl.Cols["n_iter"] = []float64{5, 10, 15}
	tbl.Cols["n_patch"] = []float64{1, 2, 3}

	bands := []string{"f200w"}
	np := catalog.NewSchema(bands).NParams()
	bounds := make([][]priors.Interval, tbl.N)
	covs := make([][]float64, tbl.N)
	for i := range bounds {
		bounds[i] = make([]priors.Interval, np)
		for p := range bounds[i] {
			bounds[i][p] = priors.Interval{float64(i) - float64(p) - 1, float64(i) + float64(p) + 1}
		}
		covs[i] = make([]float64, np*np)
		for k := range covs[i] {
			covs[i][k] = float64(i)*100 + float64(k)*0.5
		}
	}

	logs := NewLogs()
	logs.Append([]int32{0, 2}, "task-a")
	logs.Append([]int32{1}, "task-b")

	return &Snapshot{Bands: bands, Table: tbl, Bounds: bounds, Covs: covs, Logs: logs}
}

func sameFloats(a, b []float64) bool {
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

// checkSnapshot fails the test unless got carries exactly the state of want.
func checkSnapshot(t *testing.T, got, want *Snapshot) {
	t.Helper()
	if len(got.Bands) != len(want.Bands) || got.Bands[0] != want.Bands[0] {
		t.Fatalf("bands came back as %v, want %v", got.Bands, want.Bands)
	}
	if got.Table.N != want.Table.N {
		t.Fatalf("table has %d sources, want %d", got.Table.N, want.Table.N)
	}
	if len(got.Table.Cols) != len(want.Table.Cols) {
		t.Fatalf("table has %d columns, want %d", len(got.Table.Cols), len(want.Table.Cols))
	}
	for name, col := range want.Table.Cols {
		if !sameFloats(got.Table.Col(name), col) {
			t.Fatalf("column %q came back as %v, want %v", name, got.Table.Col(name), col)
		}
	}
	if len(got.Bounds) != len(want.Bounds) {
		t.Fatalf("got %d bounds rows, want %d", len(got.Bounds), len(want.Bounds))
	}
	for i, row := range want.Bounds {
		for p, iv := range row {
			if got.Bounds[i][p] != iv {
				t.Fatalf("bounds[%d][%d] came back as %v, want %v", i, p, got.Bounds[i][p], iv)
			}
		}
	}
	if len(got.Covs) != len(want.Covs) {
		t.Fatalf("got %d covariance blocks, want %d", len(got.Covs), len(want.Covs))
	}
	for i, block := range want.Covs {
		if !sameFloats(got.Covs[i], block) {
			t.Fatalf("covariance block %d did not survive the roundtrip", i)
		}
	}
	if len(got.Logs.PatchLog) != len(want.Logs.PatchLog) {
		t.Fatalf("got %d patch log entries, want %d", len(got.Logs.PatchLog), len(want.Logs.PatchLog))
	}
	for id, entries := range want.Logs.SourceLog {
		if len(got.Logs.SourceLog[id]) != len(entries) {
			t.Fatalf("source %d has %d log entries, want %d", id, len(got.Logs.SourceLog[id]), len(entries))
		}
		for k, e := range entries {
			if got.Logs.SourceLog[id][k] != e {
				t.Fatalf("source %d log entry %d is %q, want %q", id, k, got.Logs.SourceLog[id][k], e)
			}
		}
	}
}

// Test that a snapshot survives a save/load roundtrip bit for bit, and that
// the log sidecar lands next to the main file.
func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.db")
	want := testSnapshot()

	if err := Save(path, want); err != nil {
		t.Fatalf("failed to save snapshot: %s", err)
	}
	if _, err := os.Stat(LogPath(path)); err != nil {
		t.Fatalf("log sidecar was not written: %s", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load snapshot: %s", err)
	}
	checkSnapshot(t, got, want)
}

// Test that saving without bounds, covariances, or logs loads back with the
// same gaps rather than inventing empty state.
func TestSaveLoadSparse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.db")
	want := testSnapshot()
	want.Bounds = nil
	want.Covs = nil
	want.Logs = nil

	if err := Save(path, want); err != nil {
		t.Fatalf("failed to save snapshot: %s", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load snapshot: %s", err)
	}
	if got.Bounds != nil {
		t.Fatalf("bounds should be absent, got %d rows", len(got.Bounds))
	}
	if got.Covs != nil {
		t.Fatalf("covariances should be absent, got %d blocks", len(got.Covs))
	}
	if got.Logs == nil || len(got.Logs.PatchLog) != 0 {
		t.Fatal("logs should come back empty, not nil or populated")
	}
}

// Test that a second save replaces the first one completely.
func TestSaveReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.db")
	first := testSnapshot()
	if err := Save(path, first); err != nil {
		t.Fatalf("failed to save first snapshot: %s", err)
	}

	second := testSnapshot()
	second.Table.Cols["n_iter"] = []float64{100, 100, 100}
	second.Logs.Append([]int32{0}, "task-c")
	if err := Save(path, second); err != nil {
		t.Fatalf("failed to save second snapshot: %s", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load snapshot: %s", err)
	}
	checkSnapshot(t, got, second)
}

// Test that loading a missing path fails with the underlying os error, not a
// fabricated snapshot.
func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.db")); err == nil {
		t.Fatal("loading a missing snapshot should fail")
	}
}

// Test that structural damage to the snapshot surfaces as a corrupt-snapshot
// error: a missing schema bucket and a truncated column.
func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()

	noMeta := filepath.Join(dir, "nometa.db")
	if err := Save(noMeta, testSnapshot()); err != nil {
		t.Fatalf("failed to save snapshot: %s", err)
	}
	db, err := bolt.Open(noMeta, 0600, nil)
	if err != nil {
		t.Fatalf("failed to reopen snapshot: %s", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		return tx.DeleteBucket(metaBucket)
	})
	db.Close()
	if err != nil {
		t.Fatalf("failed to drop the meta bucket: %s", err)
	}
	if _, err := Load(noMeta); !core.ErrCorruptSnapshot.Is(err) {
		t.Fatalf("expected a corrupt-snapshot error, got %v", err)
	}

	shortCol := filepath.Join(dir, "shortcol.db")
	if err := Save(shortCol, testSnapshot()); err != nil {
		t.Fatalf("failed to save snapshot: %s", err)
	}
	db, err = bolt.Open(shortCol, 0600, nil)
	if err != nil {
		t.Fatalf("failed to reopen snapshot: %s", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(columnBucket).Put([]byte("ra"), []byte{1, 2, 3})
	})
	db.Close()
	if err != nil {
		t.Fatalf("failed to truncate a column: %s", err)
	}
	if _, err := Load(shortCol); !core.ErrCorruptSnapshot.Is(err) {
		t.Fatalf("expected a corrupt-snapshot error, got %v", err)
	}
}

// Test that save rejects a table whose columns disagree about the row count.
func TestSaveRaggedTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.db")
	snap := testSnapshot()
	snap.Table.Cols["ra"] = []float64{180.0}
	if err := Save(path, snap); !core.ErrSchema.Is(err) {
		t.Fatalf("expected a schema error, got %v", err)
	}
}
