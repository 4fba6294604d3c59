// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package priors

import (
	"testing"

	"github.com/wrensuess/forcepho/internal/core"
)

func TestCovStoreIdentities(t *testing.T) {
	s := NewCovStore(3, 4)
	for i := 0; i < 3; i++ {
		blk := s.Block(i)
		for r := 0; r < 4; r++ {
			for c := 0; c < 4; c++ {
				want := 0.0
				if r == c {
					want = 1.0
				}
				if blk[r*4+c] != want {
					t.Fatalf("block %d (%d,%d) = %v", i, r, c, blk[r*4+c])
				}
			}
		}
	}
}

func TestUpdateBlocks(t *testing.T) {
	s := NewCovStore(4, 2)
	blk := []float64{2, 0.5, 0.5, 3}
	if err := s.UpdateBlocks([]int{1, 3}, [][]float64{blk, blk}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got := s.Block(3)
	for i := range blk {
		if got[i] != blk[i] {
			t.Fatalf("block 3: %v", got)
		}
	}
	// Block 0 untouched.
	if b0 := s.Block(0); b0[0] != 1 || b0[1] != 0 {
		t.Fatalf("block 0 touched: %v", b0)
	}
}

func TestUpdateBlocksShapeMismatch(t *testing.T) {
	s := NewCovStore(2, 2)
	good := []float64{5, 0, 0, 5}
	bad := []float64{1, 2, 3} // wrong size

	err := s.UpdateBlocks([]int{0, 1}, [][]float64{good, bad})
	if !core.ErrCovShapeMismatch.Is(err) {
		t.Fatalf("expected ErrCovShapeMismatch, got %v", err)
	}
	// All-or-nothing: the good block must not have landed either.
	if b0 := s.Block(0); b0[0] != 1 {
		t.Fatalf("partial write on mismatch: %v", b0)
	}

	if err := s.UpdateBlocks([]int{0}, nil); !core.ErrCovShapeMismatch.Is(err) {
		t.Fatalf("expected ErrCovShapeMismatch for count mismatch, got %v", err)
	}
	if err := s.UpdateBlocks([]int{9}, [][]float64{good}); !core.ErrBadRecordKey.Is(err) {
		t.Fatalf("expected ErrBadRecordKey, got %v", err)
	}
}

func TestBlockDiag(t *testing.T) {
	s := NewCovStore(3, 2)
	s.UpdateBlocks([]int{2}, [][]float64{{2, 1, 1, 2}})

	m, err := s.BlockDiag([]int{2, 0})
	if err != nil {
		t.Fatalf("blockdiag: %v", err)
	}
	if m.Dim != 4 {
		t.Fatalf("dim %d", m.Dim)
	}
	// First block is record 2's, second is record 0's identity.
	want := [][]float64{
		{2, 1, 0, 0},
		{1, 2, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if m.At(i, j) != want[i][j] {
				t.Fatalf("(%d,%d) = %v, want %v", i, j, m.At(i, j), want[i][j])
			}
		}
	}

	if _, err := s.BlockDiag([]int{5}); !core.ErrBadRecordKey.Is(err) {
		t.Fatalf("expected ErrBadRecordKey, got %v", err)
	}
}
