// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package durable

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"

	// Import sqlite3 driver so that we can exchange catalogs as sqlite files.
	_ "github.com/mattn/go-sqlite3"

	log "github.com/golang/glog"
	"github.com/wrensuess/forcepho/internal/catalog"
	"github.com/wrensuess/forcepho/internal/core"
)

// catalogTable is the sqlite table name used for catalog exchange.
const catalogTable = "sources"

// headColumns come first in exported tables so the file is pleasant to
// eyeball; any remaining columns follow in sorted order.
var headColumns = []string{"source_index", "ra", "dec", "q", "pa", "sersic", "rhalf", "roi"}

// ImportCatalog reads a source table from the sqlite file at path. Every
// column of the 'sources' table is pulled in as float64; NULL cells become
// NaN so the ingest validation rejects them with a row number instead of a
// silent zero. Which columns are required is the ingest layer's business,
// not this one's.
func ImportCatalog(path string) (*catalog.Table, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		log.Errorf("failed to open the catalog db at %s: %s", path, err)
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(fmt.Sprintf("SELECT * FROM %s", catalogTable))
	if err != nil {
		log.Errorf("failed to select from %s table: %s", catalogTable, err)
		return nil, err
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		log.Errorf("%s table at %s has no columns", catalogTable, path)
		return nil, core.ErrSchema.Error()
	}

	cols := make(map[string][]float64, len(names))
	cells := make([]sql.NullFloat64, len(names))
	ptrs := make([]interface{}, len(names))
	for i := range cells {
		ptrs[i] = &cells[i]
	}
	n := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			log.Errorf("failed to scan row %d of %s: %s", n, catalogTable, err)
			return nil, err
		}
		for i, name := range names {
			v := math.NaN()
			if cells[i].Valid {
				v = cells[i].Float64
			}
			cols[name] = append(cols[name], v)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		log.Errorf("error in iterating through rows: %s", err)
		return nil, err
	}

	tbl := catalog.NewTable(n)
	for name, vals := range cols {
		tbl.Cols[name] = vals
	}
	return tbl, nil
}

// ExportCatalog writes tbl to the sqlite file at path, replacing any previous
// 'sources' table. Integer tag columns are stored as INTEGER, everything else
// as REAL, so the file reads naturally in external tools.
func ExportCatalog(path string, tbl *catalog.Table) error {
	for name, col := range tbl.Cols {
		if len(col) != tbl.N {
			log.Errorf("column %q has %d values for %d sources", name, len(col), tbl.N)
			return core.ErrSchema.Error()
		}
	}
	names := exportOrder(tbl)
	if len(names) == 0 {
		log.Errorf("refusing to export a catalog with no columns")
		return core.ErrSchema.Error()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		log.Errorf("failed to open the catalog db at %s: %s", path, err)
		return err
	}
	defer db.Close()

	if _, err := db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", catalogTable)); err != nil {
		log.Errorf("failed to drop stale %s table: %s", catalogTable, err)
		return err
	}

	// Due to a bug in early versions of sqlite, a non-integer primary key can
	// be null, so the key column carries an explicit NOT NULL
	// (see https://www.sqlite.org/lang_createtable.html#rowid).
	defs := make([]string, len(names))
	for i, name := range names {
		switch {
		case name == "source_index":
			defs[i] = fmt.Sprintf("%q INTEGER NOT NULL PRIMARY KEY", name)
		case isTagColumn(name):
			defs[i] = fmt.Sprintf("%q INTEGER NOT NULL", name)
		default:
			defs[i] = fmt.Sprintf("%q REAL NOT NULL", name)
		}
	}
	createStmt := fmt.Sprintf("CREATE TABLE %s (%s)", catalogTable, strings.Join(defs, ", "))
	if _, err := db.Exec(createStmt); err != nil {
		log.Errorf("failed to create %s table: %s", catalogTable, err)
		return err
	}

	// One transaction for the whole table; per-row commits make large
	// exports crawl.
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	quoted := make([]string, len(names))
	marks := make([]string, len(names))
	for i, name := range names {
		quoted[i] = fmt.Sprintf("%q", name)
		marks[i] = "?"
	}
	putStmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		catalogTable, strings.Join(quoted, ", "), strings.Join(marks, ", ")))
	if err != nil {
		tx.Rollback()
		log.Errorf("failed to prepare put statement: %s", err)
		return err
	}
	args := make([]interface{}, len(names))
	for row := 0; row < tbl.N; row++ {
		for i, name := range names {
			v := tbl.Cols[name][row]
			if isTagColumn(name) {
				args[i] = int64(v)
			} else {
				args[i] = v
			}
		}
		if _, err := putStmt.Exec(args...); err != nil {
			putStmt.Close()
			tx.Rollback()
			log.Errorf("failed to insert row %d: %s", row, err)
			return err
		}
	}
	if err := putStmt.Close(); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// exportOrder lists tbl's columns with the well-known ones first.
func exportOrder(tbl *catalog.Table) []string {
	names := make([]string, 0, len(tbl.Cols))
	seen := make(map[string]bool, len(tbl.Cols))
	for _, name := range headColumns {
		if tbl.Has(name) {
			names = append(names, name)
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(tbl.Cols))
	for name := range tbl.Cols {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

func isTagColumn(name string) bool {
	for _, c := range catalog.TagCols {
		if c == name {
			return true
		}
	}
	return false
}
