// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package durable

import (
	"database/sql"
	"math"
	"path/filepath"
	"testing"
)

// Test that a catalog table survives an export/import roundtrip, including
// the integer tag columns.
func TestSqliteRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	want := testSnapshot().Table

	if err := ExportCatalog(path, want); err != nil {
		t.Fatalf("failed to export catalog: %s", err)
	}
	got, err := ImportCatalog(path)
	if err != nil {
		t.Fatalf("failed to import catalog: %s", err)
	}

	if got.N != want.N {
		t.Fatalf("imported %d sources, want %d", got.N, want.N)
	}
	if len(got.Cols) != len(want.Cols) {
		t.Fatalf("imported %d columns, want %d", len(got.Cols), len(want.Cols))
	}
	for name, col := range want.Cols {
		if !sameFloats(got.Col(name), col) {
			t.Fatalf("column %q came back as %v, want %v", name, got.Col(name), col)
		}
	}
}

// Test that NULL cells in a foreign catalog import as NaN so the ingest
// validation can point at them by row.
func TestSqliteNullBecomesNaN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreign.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to create foreign catalog db: %s", err)
	}
	stmts := []string{
		"CREATE TABLE sources (source_index INTEGER NOT NULL PRIMARY KEY, ra REAL, q REAL)",
		"INSERT INTO sources VALUES (0, 180.001, 0.7)",
		"INSERT INTO sources VALUES (1, 180.002, NULL)",
		"INSERT INTO sources VALUES (2, 180.003, 0.9)",
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			t.Fatalf("failed to run %q: %s", s, err)
		}
	}
	db.Close()

	got, err := ImportCatalog(path)
	if err != nil {
		t.Fatalf("failed to import catalog: %s", err)
	}
	q := got.Col("q")
	if !math.IsNaN(q[1]) {
		t.Fatalf("NULL cell should import as NaN, got %v", q[1])
	}
	if q[0] != 0.7 || q[2] != 0.9 {
		t.Fatalf("neighboring cells were disturbed: %v", q)
	}
}

// Test that importing from a file without a sources table fails.
func TestSqliteImportMissingTable(t *testing.T) {
	if _, err := ImportCatalog(filepath.Join(t.TempDir(), "empty.db")); err == nil {
		t.Fatal("importing from an empty db should fail")
	}
}

// Test that a second export replaces the table instead of appending to it.
func TestSqliteExportReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	tbl := testSnapshot().Table
	if err := ExportCatalog(path, tbl); err != nil {
		t.Fatalf("failed to export catalog: %s", err)
	}
	tbl.Cols["n_iter"] = []float64{50, 50, 50}
	if err := ExportCatalog(path, tbl); err != nil {
		t.Fatalf("failed to re-export catalog: %s", err)
	}

	got, err := ImportCatalog(path)
	if err != nil {
		t.Fatalf("failed to import catalog: %s", err)
	}
	if got.N != 3 {
		t.Fatalf("re-export should replace rows, got %d", got.N)
	}
	if !sameFloats(got.Col("n_iter"), []float64{50, 50, 50}) {
		t.Fatalf("n_iter came back as %v", got.Col("n_iter"))
	}
}
