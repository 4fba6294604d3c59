// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package catalog owns the authoritative table of source records, the fixed
// parameter schema, and the scene coordinate frame derived at ingest.
package catalog

// ShapeCols are the positional and shape parameter columns, in the order
// they appear in flattened parameter vectors (after the band fluxes).
var ShapeCols = []string{"ra", "dec", "q", "pa", "sersic", "rhalf"}

// RequiredCols must be present in any table handed to Ingest, in addition to
// the shape columns and the configured band columns.
var RequiredCols = []string{
	"ra", "dec", "rhalf",
	"source_index", "is_active", "is_valid", "n_iter", "n_patch",
}

// TagCols are the integer bookkeeping columns of a catalog table.
var TagCols = []string{"id", "source_index", "is_active", "is_valid", "n_iter", "n_patch"}

// Schema fixes the parameter layout of a catalog at ingest: the configured
// band fluxes followed by the shape columns. It never changes for the
// lifetime of a catalog.
type Schema struct {
	bands  []string
	byBand map[string]int
}

// NewSchema builds a schema for the given band columns.
func NewSchema(bands []string) Schema {
	s := Schema{
		bands:  append([]string(nil), bands...),
		byBand: make(map[string]int, len(bands)),
	}
	for i, b := range s.bands {
		s.byBand[b] = i
	}
	return s
}

// Bands returns the configured flux columns.
func (s Schema) Bands() []string {
	return append([]string(nil), s.bands...)
}

// NBands returns the number of flux columns.
func (s Schema) NBands() int {
	return len(s.bands)
}

// Params returns every parameter column in vector order: bands, then shapes.
func (s Schema) Params() []string {
	out := make([]string, 0, len(s.bands)+len(ShapeCols))
	out = append(out, s.bands...)
	out = append(out, ShapeCols...)
	return out
}

// NParams is the per-record parameter count P.
func (s Schema) NParams() int {
	return len(s.bands) + len(ShapeCols)
}

// BandIndex returns the position of a band column within the flux vector.
func (s Schema) BandIndex(name string) (int, bool) {
	i, ok := s.byBand[name]
	return i, ok
}

// IsParam reports whether name is a parameter column under this schema.
func (s Schema) IsParam(name string) bool {
	if _, ok := s.byBand[name]; ok {
		return true
	}
	for _, c := range ShapeCols {
		if c == name {
			return true
		}
	}
	return false
}
