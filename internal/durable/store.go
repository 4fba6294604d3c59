// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package durable persists dispatcher state. The main snapshot is a columnar
// boltdb file holding the flattened catalog, bounds, and covariance blocks,
// self-described by an embedded schema header; the audit logs ride in a
// human-readable JSON sidecar next to it.
package durable

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"sort"

	"github.com/boltdb/bolt"

	log "github.com/golang/glog"
	"github.com/wrensuess/forcepho/internal/catalog"
	"github.com/wrensuess/forcepho/internal/core"
	"github.com/wrensuess/forcepho/internal/priors"
)

var (
	columnBucket = []byte("columns") // packed float64 catalog columns, keyed by name
	boundsBucket = []byte("bounds")  // packed (lo, hi) pairs, keyed by parameter name
	covBucket    = []byte("cov")     // packed covariance blocks, keyed by record index
	metaBucket   = []byte("meta")    // schema header

	// Keys in metaBucket:
	schemaKey = []byte("schema")
)

// snapshotVersion guards against reading snapshots written by an
// incompatible layout.
const snapshotVersion = 1

// header describes the snapshot to readers that were not around when it was
// written.
type header struct {
	Version int      `json:"version"`
	N       int      `json:"n_sources"`
	Bands   []string `json:"bands"`
	Columns []string `json:"columns"`
	Params  []string `json:"params"`
}

// Snapshot is the full durable state of a dispatcher: the flattened catalog,
// per-record bounds rows, per-record covariance blocks, and the audit logs.
// Bounds, Covs, and Logs may be nil.
type Snapshot struct {
	Bands  []string            `json:"bands"`
	Table  *catalog.Table      `json:"table"`
	Bounds [][]priors.Interval `json:"bounds,omitempty"`
	Covs   [][]float64         `json:"covs,omitempty"`
	Logs   *Logs               `json:"logs,omitempty"`
}

// Save writes a snapshot to path, replacing any previous one. The database is
// built in a temp file and renamed into place so readers never observe a half
// written snapshot; the log sidecar follows the same scheme.
func Save(path string, snap *Snapshot) error {
	if snap.Table == nil {
		log.Errorf("refusing to snapshot without a catalog table")
		return core.ErrSchema.Error()
	}
	for name, col := range snap.Table.Cols {
		if len(col) != snap.Table.N {
			log.Errorf("snapshot column %q has %d values for %d sources", name, len(col), snap.Table.N)
			return core.ErrSchema.Error()
		}
	}

	tmp := path + ".tmp"
	db, err := bolt.Open(tmp, 0600, nil)
	if err != nil {
		return err
	}
	werr := db.Update(func(tx *bolt.Tx) error {
		return writeSnapshot(tx, snap)
	})
	if cerr := db.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(tmp)
		return werr
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}

	logs := snap.Logs
	if logs == nil {
		logs = NewLogs()
	}
	return saveLogs(LogPath(path), logs)
}

func writeSnapshot(tx *bolt.Tx, snap *Snapshot) error {
	params := catalog.NewSchema(snap.Bands).Params()
	names := make([]string, 0, len(snap.Table.Cols))
	for name := range snap.Table.Cols {
		names = append(names, name)
	}
	sort.Strings(names)

	meta, err := tx.CreateBucketIfNotExists(metaBucket)
	if err != nil {
		return err
	}
	hdr, err := json.Marshal(header{
		Version: snapshotVersion,
		N:       snap.Table.N,
		Bands:   snap.Bands,
		Columns: names,
		Params:  params,
	})
	if err != nil {
		return err
	}
	if err := meta.Put(schemaKey, hdr); err != nil {
		return err
	}

	cols, err := tx.CreateBucketIfNotExists(columnBucket)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := cols.Put([]byte(name), packFloats(snap.Table.Cols[name])); err != nil {
			return err
		}
	}

	if snap.Bounds != nil {
		bb, err := tx.CreateBucketIfNotExists(boundsBucket)
		if err != nil {
			return err
		}
		// Column-major like the catalog: one key per parameter, n (lo, hi)
		// pairs per value.
		for p, name := range params {
			vals := make([]float64, 0, 2*len(snap.Bounds))
			for _, row := range snap.Bounds {
				if len(row) != len(params) {
					log.Errorf("snapshot bounds row has %d intervals, want %d", len(row), len(params))
					return core.ErrSchema.Error()
				}
				vals = append(vals, row[p][0], row[p][1])
			}
			if err := bb.Put([]byte(name), packFloats(vals)); err != nil {
				return err
			}
		}
	}

	if snap.Covs != nil {
		cb, err := tx.CreateBucketIfNotExists(covBucket)
		if err != nil {
			return err
		}
		var key [4]byte
		for i, block := range snap.Covs {
			binary.BigEndian.PutUint32(key[:], uint32(i))
			if err := cb.Put(key[:], packFloats(block)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load reads a snapshot written by Save. Structural damage (missing buckets,
// truncated columns, bad version) surfaces as ErrCorruptSnapshot; a missing
// file surfaces as the underlying os error.
func Load(path string) (*Snapshot, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var snap *Snapshot
	err = db.View(func(tx *bolt.Tx) error {
		var verr error
		snap, verr = readSnapshot(tx)
		return verr
	})
	if err != nil {
		return nil, err
	}
	snap.Logs = loadLogs(LogPath(path))
	return snap, nil
}

func readSnapshot(tx *bolt.Tx) (*Snapshot, error) {
	meta := tx.Bucket(metaBucket)
	if meta == nil {
		log.Errorf("snapshot has no meta bucket")
		return nil, core.ErrCorruptSnapshot.Error()
	}
	raw := meta.Get(schemaKey)
	if raw == nil {
		log.Errorf("snapshot has no schema header")
		return nil, core.ErrCorruptSnapshot.Error()
	}
	var hdr header
	if err := json.Unmarshal(raw, &hdr); err != nil {
		log.Errorf("snapshot schema header is unreadable: %s", err)
		return nil, core.ErrCorruptSnapshot.Error()
	}
	if hdr.Version != snapshotVersion {
		log.Errorf("snapshot version %d can not be handled", hdr.Version)
		return nil, core.ErrCorruptSnapshot.Error()
	}

	cols := tx.Bucket(columnBucket)
	if cols == nil {
		log.Errorf("snapshot has no column bucket")
		return nil, core.ErrCorruptSnapshot.Error()
	}
	tbl := catalog.NewTable(hdr.N)
	for _, name := range hdr.Columns {
		vals, ok := unpackFloats(cols.Get([]byte(name)))
		if !ok || len(vals) != hdr.N {
			log.Errorf("snapshot column %q is truncated", name)
			return nil, core.ErrCorruptSnapshot.Error()
		}
		tbl.Cols[name] = vals
	}

	snap := &Snapshot{Bands: hdr.Bands, Table: tbl}
	if bb := tx.Bucket(boundsBucket); bb != nil {
		rows := make([][]priors.Interval, hdr.N)
		for i := range rows {
			rows[i] = make([]priors.Interval, len(hdr.Params))
		}
		for p, name := range hdr.Params {
			vals, ok := unpackFloats(bb.Get([]byte(name)))
			if !ok || len(vals) != 2*hdr.N {
				log.Errorf("snapshot bounds for %q are truncated", name)
				return nil, core.ErrCorruptSnapshot.Error()
			}
			for i := 0; i < hdr.N; i++ {
				rows[i][p] = priors.Interval{vals[2*i], vals[2*i+1]}
			}
		}
		snap.Bounds = rows
	}

	if cb := tx.Bucket(covBucket); cb != nil {
		pp := len(hdr.Params) * len(hdr.Params)
		covs := make([][]float64, hdr.N)
		var key [4]byte
		for i := 0; i < hdr.N; i++ {
			binary.BigEndian.PutUint32(key[:], uint32(i))
			block, ok := unpackFloats(cb.Get(key[:]))
			if !ok || len(block) != pp {
				log.Errorf("snapshot covariance block %d is truncated", i)
				return nil, core.ErrCorruptSnapshot.Error()
			}
			covs[i] = block
		}
		snap.Covs = covs
	}
	return snap, nil
}

func packFloats(vals []float64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func unpackFloats(buf []byte) ([]float64, bool) {
	if buf == nil || len(buf)%8 != 0 {
		return nil, false
	}
	vals := make([]float64, len(buf)/8)
	for i := range vals {
		vals[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[8*i:]))
	}
	return vals, true
}
