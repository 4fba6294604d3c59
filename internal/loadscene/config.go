// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package loadscene

import (
	"fmt"
	"time"

	log "github.com/golang/glog"

	"github.com/wrensuess/forcepho/internal/dispatch"
	"github.com/wrensuess/forcepho/internal/server"
)

// Config collects everything one load run needs: the synthetic scene, the
// coordinator tuning, the worker behavior, and the optional status server.
type Config struct {
	Dispatch dispatch.Config // Coordinator tuning. Empty Bands inherit Field.Bands.
	Server   server.Config   // Status surface. An empty Addr disables it.
	Field    FieldConfig     // The synthetic scene to generate and fit.

	// DB, when set, bounces the generated field through the sqlite catalog
	// format before ingest, so a load run covers the same import path real
	// catalogs arrive on.
	DB string

	Workers     int // Number of concurrent fit workers.
	NIterPerFit int // Sampling iterations each successful fit reports.
	FailEvery   int // Every Nth patch reports a failed fit. 0 disables failures.

	// FlushEvery makes every Nth checkin flush state to the snapshot path.
	// 0 disables, as does an empty Dispatch.SnapshotPath.
	FlushEvery int

	// To make it easy to configure durations (e.g., one can write "3s"
	// instead of 3000000000), we expose a string type for each of these
	// fields and hide the actual duration type (JSON encoder/decoder only
	// touches exposed fields). parseDurations must be called before the
	// configuration is used to drive a run.

	// FitTime is the simulated sampler wall time per patch.
	FitTime string
	fitTime time.Duration

	// MinSleep and MaxSleep bound the conflict retry backoff.
	MinSleep string
	minSleep time.Duration
	MaxSleep string
	maxSleep time.Duration

	// RunTime caps the whole run. Empty means run until the catalog is done.
	RunTime string
	runTime time.Duration
}

// parseDurations parses the string duration fields into their hidden
// time.Duration counterparts.
func (c *Config) parseDurations() {
	var err error

	if c.fitTime, err = time.ParseDuration(c.FitTime); err != nil {
		log.Fatalf("failed to parse FitTime field: %s", err)
	}
	if c.minSleep, err = time.ParseDuration(c.MinSleep); err != nil {
		log.Fatalf("failed to parse MinSleep field: %s", err)
	}
	if c.maxSleep, err = time.ParseDuration(c.MaxSleep); err != nil {
		log.Fatalf("failed to parse MaxSleep field: %s", err)
	}
	if c.RunTime == "" {
		c.runTime = 0
	} else if c.runTime, err = time.ParseDuration(c.RunTime); err != nil {
		log.Fatalf("failed to parse RunTime field: %s", err)
	}
}

// Validate validates the configuration object has reasonable (not obviously
// wrong) values. parseDurations must have run first.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("at least one worker must be configured")
	}
	if c.NIterPerFit < 1 {
		return fmt.Errorf("each fit must report at least one iteration")
	}
	if c.FailEvery < 0 {
		return fmt.Errorf("the failure cadence can not be negative")
	}
	if c.FlushEvery < 0 {
		return fmt.Errorf("the flush cadence can not be negative")
	}
	if c.fitTime < 0 {
		return fmt.Errorf("the simulated fit time can not be negative")
	}
	if c.minSleep <= 0 {
		return fmt.Errorf("the retry backoff floor must be positive")
	}
	if c.maxSleep < c.minSleep {
		return fmt.Errorf("the retry backoff ceiling can not be below the floor")
	}
	if c.runTime < 0 {
		return fmt.Errorf("the run time can not be negative")
	}
	return nil
}

// DefaultConfig specifies default values for Config. The field is crowded
// enough that checkouts conflict at the default worker count, which is the
// behavior a load run exists to exercise.
var DefaultConfig = Config{
	Dispatch: dispatch.DefaultTestConfig,
	Server:   server.Config{JobName: "loadscene"},
	Field:    DefaultFieldConfig,

	Workers:     8,
	NIterPerFit: 25,
	FailEvery:   0,
	FlushEvery:  0,

	FitTime:  "2ms",
	MinSleep: "1ms",
	MaxSleep: "50ms",
	RunTime:  "1m",
}
