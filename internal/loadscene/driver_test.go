// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package loadscene

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/wrensuess/forcepho/internal/durable"
)

// smallConfig shrinks the default run so tests converge in well under a
// second.
func smallConfig() Config {
	cfg := DefaultConfig
	cfg.Field.NClusters = 4
	cfg.Field.NPerCluster = 3
	cfg.Field.Seed = 7
	cfg.Workers = 4
	cfg.NIterPerFit = 50
	cfg.FitTime = "0s"
	cfg.MinSleep = "1ms"
	cfg.MaxSleep = "10ms"
	cfg.RunTime = "30s"
	cfg.Dispatch.RandSeed = 99
	return cfg
}

// TestDriverRun drives a small field to convergence with several workers.
func TestDriverRun(t *testing.T) {
	d := NewDriver(smallConfig())
	stats, err := d.Run()
	if err != nil {
		t.Fatalf("load run failed: %s\n%s", err, stats)
	}
	if !d.co.Done() {
		t.Fatalf("run returned without converging:\n%s", stats)
	}

	s := d.co.Stats()
	if s.NDone != s.NSources {
		t.Fatalf("%d of %d sources done after a converged run", s.NDone, s.NSources)
	}
	if s.NActive != 0 || s.NFixed != 0 {
		t.Fatalf("records left claimed after the run: %d active, %d fixed", s.NActive, s.NFixed)
	}
	if int64(s.NPatches) != atomic.LoadInt64(&d.nPatches) {
		t.Fatalf("logged %d patches but workers fitted %d", s.NPatches, d.nPatches)
	}

	for _, want := range []string{"Claim stats:", "Fit stats:", "accumulated iterations"} {
		if !strings.Contains(stats, want) {
			t.Fatalf("stats are missing %q:\n%s", want, stats)
		}
	}
}

// TestDriverFailedFits makes every other patch report a failed fit and
// checks the bookkeeping still balances.
func TestDriverFailedFits(t *testing.T) {
	cfg := smallConfig()
	cfg.FailEvery = 2
	cfg.RunTime = "5s"

	d := NewDriver(cfg)
	stats, err := d.Run()
	if err != nil {
		t.Fatalf("load run failed: %s\n%s", err, stats)
	}
	if atomic.LoadInt64(&d.nFailed) == 0 {
		t.Fatalf("no fits failed with FailEvery=2:\n%s", stats)
	}
	s := d.co.Stats()
	if s.NActive != 0 || s.NFixed != 0 {
		t.Fatalf("records left claimed after the run: %d active, %d fixed", s.NActive, s.NFixed)
	}
	if int64(s.NPatches) != atomic.LoadInt64(&d.nPatches) {
		t.Fatalf("logged %d patches but workers fitted %d", s.NPatches, d.nPatches)
	}
}

// TestDriverDurablePaths routes the field through sqlite and flushes
// checkins to a snapshot, then reloads the snapshot.
func TestDriverDurablePaths(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig()
	cfg.DB = filepath.Join(dir, "field.db")
	cfg.Dispatch.SnapshotPath = filepath.Join(dir, "scene.snap")
	cfg.FlushEvery = 2

	d := NewDriver(cfg)
	stats, err := d.Run()
	if err != nil {
		t.Fatalf("load run failed: %s\n%s", err, stats)
	}
	if _, err := os.Stat(cfg.DB); err != nil {
		t.Fatalf("no sqlite catalog was written: %s", err)
	}

	snap, err := durable.Load(cfg.Dispatch.SnapshotPath)
	if err != nil {
		t.Fatalf("failed to load the persisted snapshot: %s", err)
	}
	if len(snap.Bands) != 1 || snap.Bands[0] != "f200w" {
		t.Fatalf("snapshot has bands %v, want [f200w]", snap.Bands)
	}
	if snap.Table.N != d.co.Stats().NSources {
		t.Fatalf("snapshot has %d sources, want %d", snap.Table.N, d.co.Stats().NSources)
	}
}

// TestDriverBadConfig rejects a run with no workers before touching the
// catalog.
func TestDriverBadConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.Workers = 0
	if _, err := NewDriver(cfg).Run(); err == nil {
		t.Fatalf("a run with zero workers started")
	}
}
