// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package priors

import (
	log "github.com/golang/glog"

	"github.com/wrensuess/forcepho/internal/core"
)

// CovStore holds one PxP covariance ("mass matrix") block per record,
// approximating the local curvature of the fit objective. Blocks start as
// identities at ingest and are overwritten at checkin from each fit's
// covariance estimate.
type CovStore struct {
	n, p   int
	blocks [][]float64 // row-major PxP per record
}

// NewCovStore allocates n identity blocks of size p.
func NewCovStore(n, p int) *CovStore {
	s := &CovStore{n: n, p: p, blocks: make([][]float64, n)}
	for i := range s.blocks {
		blk := make([]float64, p*p)
		for d := 0; d < p; d++ {
			blk[d*p+d] = 1
		}
		s.blocks[i] = blk
	}
	return s
}

// Len returns the number of records covered.
func (s *CovStore) Len() int {
	return s.n
}

// P returns the per-record parameter count.
func (s *CovStore) P() int {
	return s.p
}

// Block returns a copy of record i's block.
func (s *CovStore) Block(i int) []float64 {
	return append([]float64(nil), s.blocks[i]...)
}

// UpdateBlocks overwrites the blocks for the given records. The update is
// all-or-nothing: if any block has the wrong shape, nothing is written and
// ErrCovShapeMismatch is returned so the caller can warn and move on.
func (s *CovStore) UpdateBlocks(indices []int, blocks [][]float64) error {
	if len(blocks) != len(indices) {
		log.Warningf("covariance update: %d blocks for %d records", len(blocks), len(indices))
		return core.ErrCovShapeMismatch.Error()
	}
	for _, blk := range blocks {
		if len(blk) != s.p*s.p {
			log.Warningf("covariance update: block has %d entries, want %d", len(blk), s.p*s.p)
			return core.ErrCovShapeMismatch.Error()
		}
	}
	for _, i := range indices {
		if i < 0 || i >= s.n {
			return core.ErrBadRecordKey.Error()
		}
	}
	for k, i := range indices {
		copy(s.blocks[i], blocks[k])
	}
	return nil
}

// BlockDiag is the dense block-diagonal assembly of per-record blocks, used
// to seed a sampler's mass matrix for a patch.
type BlockDiag struct {
	Dim  int
	Data []float64 // row-major Dim x Dim
}

// At returns element (i, j).
func (m *BlockDiag) At(i, j int) float64 {
	return m.Data[i*m.Dim+j]
}

// BlockDiag assembles the blocks for the given records along the diagonal of
// a (len(indices)*P)^2 matrix, in index order, zeros elsewhere.
func (s *CovStore) BlockDiag(indices []int) (*BlockDiag, error) {
	for _, i := range indices {
		if i < 0 || i >= s.n {
			return nil, core.ErrBadRecordKey.Error()
		}
	}
	dim := len(indices) * s.p
	m := &BlockDiag{Dim: dim, Data: make([]float64, dim*dim)}
	for k, i := range indices {
		off := k * s.p
		blk := s.blocks[i]
		for r := 0; r < s.p; r++ {
			copy(m.Data[(off+r)*dim+off:(off+r)*dim+off+s.p], blk[r*s.p:(r+1)*s.p])
		}
	}
	return m, nil
}
