// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package loadscene

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beorn7/perks/quantile"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	log "github.com/golang/glog"
	"github.com/wrensuess/forcepho/internal/catalog"
	"github.com/wrensuess/forcepho/internal/core"
	"github.com/wrensuess/forcepho/internal/dispatch"
	"github.com/wrensuess/forcepho/internal/durable"
	"github.com/wrensuess/forcepho/internal/server"
	"github.com/wrensuess/forcepho/pkg/retry"
)

// eventStats is used to record some basic stats during a load run. It keeps
// a running unit count and a latency sample per event. Its stringer returns
// a formatted result including the total, throughput, and the latency
// distribution.
//
// Does its own locking.
type eventStats struct {
	unit  string    // What the count counts.
	start time.Time // Start time.

	lock  sync.Mutex       // Protect below.
	count int64            // Units accumulated over all events.
	lat   *quantile.Stream // Per-event latency.
}

func newStat(unit string) *eventStats {
	objectives := map[float64]float64{0.1: 0.05, 0.5: 0.05, 0.9: 0.01, 0.99: 0.001, 0.9999: 0.000001}
	return &eventStats{unit: unit, start: time.Now(), lat: quantile.NewTargeted(objectives)}
}

func (s *eventStats) update(n int64, d time.Duration) {
	s.lock.Lock()
	s.count += n
	s.lat.Insert(float64(d) / 1e9)
	s.lock.Unlock()
}

func (s *eventStats) String() string {
	s.lock.Lock()
	defer s.lock.Unlock()

	elapsedInSec := time.Now().Sub(s.start).Seconds()
	str := fmt.Sprintf("accumulated %s: %d\n", s.unit, s.count)
	str += fmt.Sprintf("throughput: %f %s/sec\n", float64(s.count)/elapsedInSec, s.unit)
	str += fmt.Sprintf("latency distribution:\n")
	for _, quantile := range []float64{0.1, 0.5, 0.9, 0.99, 0.9999} {
		str += fmt.Sprintf("%g=%.3f ms\n", quantile*100, s.lat.Query(quantile)*1000)
	}
	return str
}

// Driver owns one load run. It generates a synthetic field, ingests it, and
// drives concurrent fit workers through the checkout/checkin protocol until
// the catalog converges or the run times out. The fits are fake; the
// contention, merge, bounds, covariance, and flush paths are the real ones.
type Driver struct {
	cfg    Config
	schema catalog.Schema

	co  *dispatch.Coordinator
	srv *server.Server

	// Counters. Updated with atomics by the workers.
	nPatches   int64
	nConflicts int64
	nBusy      int64
	nFailed    int64

	// Stats. Doing their own locking.
	claimStat *eventStats
	fitStat   *eventStats
}

// NewDriver returns a driver for one run of the given config.
func NewDriver(cfg Config) *Driver {
	return &Driver{cfg: cfg}
}

// Run executes the load and blocks until it finishes. The returned string
// summarizes progress, throughput, and latency whether or not the run
// succeeded.
func (d *Driver) Run() (string, error) {
	d.cfg.parseDurations()
	if len(d.cfg.Dispatch.Bands) == 0 {
		d.cfg.Dispatch.Bands = d.cfg.Field.Bands
	}
	if err := d.cfg.Validate(); err != nil {
		log.Errorf("bad load config: %s", err)
		return "", core.ErrBadConfig.Error()
	}
	d.schema = catalog.NewSchema(d.cfg.Dispatch.Bands)

	tbl, err := BuildField(d.cfg.Field)
	if err != nil {
		return "", err
	}
	if d.cfg.DB != "" {
		// Bounce the field through the on-disk catalog format so the run
		// enters through the same door real catalogs do.
		if err = durable.ExportCatalog(d.cfg.DB, tbl); err != nil {
			return "", err
		}
		if tbl, err = durable.ImportCatalog(d.cfg.DB); err != nil {
			return "", err
		}
	}

	if d.co, err = dispatch.New(d.cfg.Dispatch); err != nil {
		return "", err
	}
	d.srv = server.NewServer(d.co, d.cfg.Server)
	if err = d.srv.Ingest(tbl, catalog.IngestOptions{}); err != nil {
		return "", err
	}
	if d.cfg.Server.Addr != "" {
		go d.srv.Start()
	}

	ctx := context.Background()
	if d.cfg.runTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.runTime)
		defer cancel()
	}

	d.claimStat = newStat("claims")
	d.fitStat = newStat("iterations")

	log.Infof("starting %d fit workers over %d sources", d.cfg.Workers, d.co.Stats().NSources)
	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		id := i
		g.Go(func() error {
			log.Infof("worker #%d started", id)
			return d.worker(gCtx, id)
		})
	}
	err = g.Wait()

	stats := d.report()
	if err != nil {
		return stats, err
	}
	if err = d.co.CheckBounds(); err != nil {
		log.Errorf("fitted parameters escaped their bounds: %s", err)
		return stats, err
	}
	if p := d.cfg.Dispatch.SnapshotPath; p != "" {
		if err = d.srv.Persist(p); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// report formats the end-of-run summary.
func (d *Driver) report() string {
	s := d.co.Stats()
	str := fmt.Sprintf("  Catalog: %d/%d sources done, %d patches logged\n",
		s.NDone, s.NSources, s.NPatches)
	str += fmt.Sprintf("  Workers: %d fits (%d failed), %d conflicts, %d busy waits\n",
		atomic.LoadInt64(&d.nPatches), atomic.LoadInt64(&d.nFailed),
		atomic.LoadInt64(&d.nConflicts), atomic.LoadInt64(&d.nBusy))
	str += fmt.Sprintf("  Claim stats:\n%s  Fit stats:\n%s", d.claimStat, d.fitStat)
	return str
}

// worker claims regions and fits them until the catalog converges, the run
// is cancelled, or an operation fails hard.
func (d *Driver) worker(ctx context.Context, id int) error {
	rng := rand.New(rand.NewSource(d.cfg.Field.Seed + int64(id)*7919))
	retrier := &retry.Retrier{MinSleep: d.cfg.minSleep, MaxSleep: d.cfg.maxSleep}

	for {
		if ctx.Err() != nil {
			return nil
		}
		co, err := d.claim(ctx, retrier)
		if err != nil {
			return err
		}
		if co == nil {
			// Converged or cancelled.
			return nil
		}

		start := time.Now()
		req := d.fit(rng, co)
		if err = d.srv.Checkin(req); err != nil {
			return err
		}
		iters := int64(req.NIter) * int64(len(req.Active))
		if iters < 0 {
			iters = -iters
		}
		d.fitStat.update(iters, time.Now().Sub(start))
	}
}

// claim checks out one region, backing off on conflicts and while the
// catalog's claimed fraction sits at its ceiling. A nil checkout with a nil
// error means the run is over.
func (d *Driver) claim(ctx context.Context, retrier *retry.Retrier) (*dispatch.Checkout, error) {
	var out *dispatch.Checkout
	var fatal error

	start := time.Now()
	success, _ := retrier.Do(ctx, func(int) bool {
		if d.co.Done() {
			return true
		}
		if !d.co.Sparse() {
			atomic.AddInt64(&d.nBusy, 1)
			return false
		}
		co, err := d.srv.Checkout(-1)
		if err == nil {
			out = co
			return true
		}
		if core.IsRetriableFphoError(err) {
			atomic.AddInt64(&d.nConflicts, 1)
			return false
		}
		fatal = err
		return true
	})
	if fatal != nil {
		return nil, fatal
	}
	if !success || out == nil {
		return nil, nil
	}
	d.claimStat.update(1, time.Now().Sub(start))
	return out, nil
}

// fit simulates a sampler running on the patch: it burns the configured wall
// time, walks every active record toward the center of its bounds interval,
// and fabricates a diagonal covariance block per record. Every FailEvery-th
// patch instead reports a failed fit, where parameters hold still and the
// iteration count goes out negative.
func (d *Driver) fit(rng *rand.Rand, co *dispatch.Checkout) *dispatch.CheckinReq {
	if d.cfg.fitTime > 0 {
		time.Sleep(d.cfg.fitTime)
	}

	patch := atomic.AddInt64(&d.nPatches, 1)
	np := d.schema.NParams()

	req := &dispatch.CheckinReq{
		Active: co.Active,
		Fixed:  co.Fixed,
		NIter:  int32(d.cfg.NIterPerFit),
		TaskID: uuid.New().String(),
	}
	if d.cfg.FailEvery > 0 && patch%int64(d.cfg.FailEvery) == 0 {
		atomic.AddInt64(&d.nFailed, 1)
		req.NIter = -req.NIter
		return req
	}

	idx := make([]int, len(co.Active))
	for i := range co.Active {
		idx[i] = int(co.Active[i].SourceIndex)
	}
	bounds, _, err := d.co.BoundsAndCovs(idx)
	if err != nil {
		// Bounds are advisory to the synthetic sampler. Check the patch in
		// anyway; the merge path is what the run is exercising.
		log.Warningf("could not fetch bounds for patch %d: %s", patch, err)
		bounds = nil
	}

	covs := make([][]float64, len(co.Active))
	for i := range co.Active {
		rec := &req.Active[i]
		blk := make([]float64, np*np)
		for j, name := range d.schema.Params() {
			v, _ := rec.Param(d.schema, name)
			width := 0.0
			if bounds != nil {
				lo, hi := bounds[i][j][0], bounds[i][j][1]
				// A step toward the interval center never leaves the
				// interval, so checked-in values stay legal.
				v += (0.1 + 0.2*rng.Float64()) * ((lo+hi)/2 - v)
				width = hi - lo
				rec.SetParam(d.schema, name, v)
			}
			sigma := width / 16
			if sigma <= 0 {
				sigma = 1e-3
			}
			blk[j*np+j] = sigma * sigma
		}
		covs[i] = blk
	}
	req.Covs = covs
	req.Bounds = bounds

	if d.cfg.FlushEvery > 0 && d.cfg.Dispatch.SnapshotPath != "" &&
		patch%int64(d.cfg.FlushEvery) == 0 {
		req.Flush = true
	}
	return req
}
