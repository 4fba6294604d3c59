// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package catalog

import (
	log "github.com/golang/glog"

	"github.com/wrensuess/forcepho/internal/core"
)

// Catalog is the authoritative, mutable table of source records. It is
// created by Ingest and replaced only by re-ingest. The scene coordinate
// cache and the per-record ROI are computed once at ingest and never move,
// even though fitted positions may drift within their bounds.
type Catalog struct {
	schema Schema
	recs   []Record

	// orig is the immutable copy of the ingested state, kept for audit and
	// for seeding spatial queries from original positions.
	orig []Record

	frame Frame
	xy    [][2]float64 // scene coordinates, ingest-frozen
}

// IngestOptions carries the optional knobs for Ingest.
type IngestOptions struct {
	// ROI supplies a per-record radius of influence in arcsec. When nil the
	// ingested rhalf column is copied instead.
	ROI []float64
}

// Ingest validates a source table and builds the catalog from it. The
// required, shape, and band columns must all be present and finite;
// otherwise ErrSchema is returned and no catalog is built. Records keep any
// incoming n_iter/n_patch counts (snapshot reloads depend on this) but are
// always reset to inactive and valid, and source_index is reassigned densely.
func Ingest(tbl *Table, bands []string, opts IngestOptions) (*Catalog, error) {
	if tbl == nil || tbl.N == 0 {
		log.Errorf("ingest: empty source table")
		return nil, core.ErrSchema.Error()
	}
	schema := NewSchema(bands)

	need := make([]string, 0, len(RequiredCols)+len(ShapeCols)+len(bands))
	need = append(need, RequiredCols...)
	need = append(need, ShapeCols...)
	need = append(need, bands...)
	for _, c := range need {
		if !tbl.Has(c) {
			log.Errorf("ingest: required column %q is not present", c)
			return nil, core.ErrSchema.Error()
		}
		if i := tbl.finiteCol(c); i >= 0 {
			log.Errorf("ingest: non-finite value in column %q row %d", c, i)
			return nil, core.ErrSchema.Error()
		}
	}
	if opts.ROI != nil && len(opts.ROI) != tbl.N {
		log.Errorf("ingest: roi has %d entries for %d records", len(opts.ROI), tbl.N)
		return nil, core.ErrSchema.Error()
	}

	c := &Catalog{schema: schema}
	c.recs = make([]Record, tbl.N)
	ids := tbl.Col("id")
	for i := range c.recs {
		r := &c.recs[i]
		r.SourceIndex = int32(i)
		if ids != nil {
			r.ID = int32(ids[i])
		} else {
			r.ID = int32(i)
		}
		r.IsActive = false
		r.IsValid = true
		r.NIter = int32(tbl.Col("n_iter")[i])
		r.NPatch = int32(tbl.Col("n_patch")[i])
		r.RA = tbl.Col("ra")[i]
		r.Dec = tbl.Col("dec")[i]
		r.Q = tbl.Col("q")[i]
		r.PA = tbl.Col("pa")[i]
		r.Sersic = tbl.Col("sersic")[i]
		r.Rhalf = tbl.Col("rhalf")[i]
		if opts.ROI != nil {
			r.ROI = opts.ROI[i]
		} else {
			r.ROI = r.Rhalf
		}
		r.Flux = make([]float64, len(bands))
		for bi, b := range bands {
			r.Flux[bi] = tbl.Col(b)[i]
		}
	}

	// Audit copy of the ingested state.
	c.orig = make([]Record, len(c.recs))
	for i := range c.recs {
		c.orig[i] = c.recs[i].Clone()
	}

	// Scene frame centered on the median position, coordinates cached once.
	ras := tbl.Col("ra")
	decs := tbl.Col("dec")
	c.frame = NewFrame(ras, decs)
	c.xy = make([][2]float64, tbl.N)
	for i := range c.xy {
		x, y := c.frame.SkyToScene(ras[i], decs[i])
		c.xy[i] = [2]float64{x, y}
	}

	log.Infof("ingested %d records, %d bands, frame center (%.6f, %.6f)",
		tbl.N, len(bands), c.frame.RA0, c.frame.Dec0)
	return c, nil
}

// Len returns the number of records.
func (c *Catalog) Len() int {
	return len(c.recs)
}

// Schema returns the fixed parameter schema.
func (c *Catalog) Schema() Schema {
	return c.schema
}

// Frame returns the scene coordinate frame.
func (c *Catalog) Frame() Frame {
	return c.frame
}

// Record returns a pointer to the live record at index i. Only the
// coordinator mutates records through this.
func (c *Catalog) Record(i int) *Record {
	return &c.recs[i]
}

// Copy returns a deep copy of the record at index i.
func (c *Catalog) Copy(i int) Record {
	return c.recs[i].Clone()
}

// Copies returns deep copies of the records at the given indices.
func (c *Catalog) Copies(indices []int) []Record {
	out := make([]Record, len(indices))
	for k, i := range indices {
		out[k] = c.recs[i].Clone()
	}
	return out
}

// Original returns the ingested (audit) copy of the record at index i.
func (c *Catalog) Original(i int) Record {
	return c.orig[i].Clone()
}

// SceneXY returns the frozen scene coordinates of record i.
func (c *Catalog) SceneXY(i int) (float64, float64) {
	return c.xy[i][0], c.xy[i][1]
}

// SceneCoords returns the full frozen scene coordinate cache. Callers must
// not mutate it.
func (c *Catalog) SceneCoords() [][2]float64 {
	return c.xy
}

// CountActive returns the number of records currently claimed.
func (c *Catalog) CountActive() int {
	n := 0
	for i := range c.recs {
		if c.recs[i].IsActive {
			n++
		}
	}
	return n
}

// CountValid returns the number of records currently valid.
func (c *Catalog) CountValid() int {
	n := 0
	for i := range c.recs {
		if c.recs[i].IsValid {
			n++
		}
	}
	return n
}

// Update bulk-writes the named fields for a subset of records. Parameter
// columns and the n_iter/n_patch counters are writable; everything else is
// fixed after ingest. Each field slice must be parallel to indices.
func (c *Catalog) Update(indices []int, fields map[string][]float64) error {
	for name, vals := range fields {
		if len(vals) != len(indices) {
			log.Errorf("update: field %q has %d values for %d indices", name, len(vals), len(indices))
			return core.ErrSchema.Error()
		}
		if !c.schema.IsParam(name) && name != "n_iter" && name != "n_patch" {
			log.Errorf("update: column %q is not writable", name)
			return core.ErrSchema.Error()
		}
	}
	for _, i := range indices {
		if i < 0 || i >= len(c.recs) {
			return core.ErrBadRecordKey.Error()
		}
	}
	for name, vals := range fields {
		for k, i := range indices {
			switch name {
			case "n_iter":
				c.recs[i].NIter = int32(vals[k])
			case "n_patch":
				c.recs[i].NPatch = int32(vals[k])
			default:
				c.recs[i].SetParam(c.schema, name, vals[k])
			}
		}
	}
	return nil
}

// AsTable flattens the live catalog back into column form, the shape used
// by snapshots and sqlite export.
func (c *Catalog) AsTable() *Table {
	tbl := NewTable(len(c.recs))
	cols := append([]string(nil), TagCols...)
	cols = append(cols, "roi")
	cols = append(cols, c.schema.Params()...)
	for _, name := range cols {
		tbl.Cols[name] = make([]float64, len(c.recs))
	}
	for i := range c.recs {
		r := &c.recs[i]
		tbl.Cols["id"][i] = float64(r.ID)
		tbl.Cols["source_index"][i] = float64(r.SourceIndex)
		tbl.Cols["is_active"][i] = boolToF(r.IsActive)
		tbl.Cols["is_valid"][i] = boolToF(r.IsValid)
		tbl.Cols["n_iter"][i] = float64(r.NIter)
		tbl.Cols["n_patch"][i] = float64(r.NPatch)
		tbl.Cols["roi"][i] = r.ROI
		for _, p := range c.schema.Params() {
			v, _ := r.Param(c.schema, p)
			tbl.Cols[p][i] = v
		}
	}
	return tbl
}

func boolToF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
