// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package catalog

import (
	"fmt"
	"math"
)

// Table is a column-oriented source table: the interchange form between
// ingest, the sqlite import/export layer, and snapshots. Every column is
// float64; integer tag columns are converted on the way in and out.
type Table struct {
	N    int
	Cols map[string][]float64
}

// NewTable returns an empty table sized for n rows.
func NewTable(n int) *Table {
	return &Table{N: n, Cols: make(map[string][]float64)}
}

// Has reports whether the named column is present.
func (t *Table) Has(name string) bool {
	_, ok := t.Cols[name]
	return ok
}

// Col returns the named column, or nil if absent.
func (t *Table) Col(name string) []float64 {
	return t.Cols[name]
}

// Set installs a column. The length must match the table's row count.
func (t *Table) Set(name string, vals []float64) error {
	if len(vals) != t.N {
		return fmt.Errorf("column %q has %d rows, table has %d", name, len(vals), t.N)
	}
	t.Cols[name] = vals
	return nil
}

// SetConst installs a column with every row set to v.
func (t *Table) SetConst(name string, v float64) {
	col := make([]float64, t.N)
	for i := range col {
		col[i] = v
	}
	t.Cols[name] = col
}

// finiteCol reports the first non-finite row in the named column, or -1.
func (t *Table) finiteCol(name string) int {
	for i, v := range t.Cols[name] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i
		}
	}
	return -1
}
