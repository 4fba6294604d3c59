// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package dispatch owns the mutable source catalog and serializes the
// checkout/checkin protocol over it. Exactly one Coordinator owns a catalog;
// workers receive copies of records and return copies, and every merge back
// into shared state happens under the Coordinator's lock.
package dispatch

import (
	"math"
	"math/rand"
	"sync"

	sigar "github.com/cloudfoundry/gosigar"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	log "github.com/golang/glog"
	"github.com/wrensuess/forcepho/internal/catalog"
	"github.com/wrensuess/forcepho/internal/core"
	"github.com/wrensuess/forcepho/internal/durable"
	"github.com/wrensuess/forcepho/internal/priors"
	"github.com/wrensuess/forcepho/internal/scene"
	"github.com/wrensuess/forcepho/internal/spatial"
)

var (
	mCheckouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "dispatch",
		Name:      "checkouts",
		Help:      "checkout attempts by result",
	}, []string{"result"})
	mCheckins = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "dispatch",
		Name:      "checkins",
		Help:      "completed checkins",
	})
	mIters = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "dispatch",
		Name:      "iterations",
		Help:      "per-source sampling iterations accumulated by checkins",
	})
	mActive = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "dispatch",
		Name:      "active_sources",
		Help:      "sources currently checked out",
	})
)

// Checkout is one claimed unit of work: a sky region, the records the worker
// may move, and the surrounding records it must hold fixed. All records are
// copies; the worker returns its results through Checkin.
type Checkout struct {
	Region scene.Region
	Active []catalog.Record
	Fixed  []catalog.Record
}

// CheckinReq returns a unit of work. Active records are matched to catalog
// rows by their SourceIndex; Covs and Bounds, when present, run parallel to
// Active. A TaskID tags the audit logs, and Flush persists the catalog to the
// configured snapshot path before returning.
type CheckinReq struct {
	Active []catalog.Record
	Fixed  []catalog.Record
	NIter  int32
	Covs   [][]float64
	Bounds [][]priors.Interval
	TaskID string
	Flush  bool
}

// Coordinator is the single writer over one catalog. Checkout claims a set of
// non-overlapping records, Checkin merges results back; both are serialized
// under one lock, so workers may run fully parallel with no shared state.
type Coordinator struct {
	cfg Config

	lock   sync.Mutex // Protects everything below.
	cat    *catalog.Catalog
	index  *spatial.KDTree
	bounds *priors.Bounds
	covs   *priors.CovStore
	radius *scene.RadiusBuilder
	fof    *scene.FoFBuilder
	logs   *durable.Logs
	rng    *rand.Rand

	nActive int
	nFixed  int
}

// New returns a Coordinator with no catalog. Call Ingest or Restore before
// checking out work.
func New(cfg Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		log.Errorf("bad dispatcher config: %s", err)
		return nil, core.ErrBadConfig.Error()
	}
	return &Coordinator{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.RandSeed)),
		logs: durable.NewLogs(),
	}, nil
}

// Ingest validates and adopts a source table, replacing any prior catalog.
// Bounds, covariance blocks, the spatial index, and the task logs all start
// fresh.
func (c *Coordinator) Ingest(tbl *catalog.Table, opts catalog.IngestOptions) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.ingestLocked(tbl, opts)
}

func (c *Coordinator) ingestLocked(tbl *catalog.Table, opts catalog.IngestOptions) error {
	if c.cfg.FreeMemLimit > 0 {
		mem := sigar.Mem{}
		if err := mem.Get(); err != nil {
			log.Errorf("failed to get memory info: %s", err)
		} else if mem.ActualFree < c.cfg.FreeMemLimit {
			log.Errorf("not enough free memory to ingest %d sources", tbl.N)
			return core.ErrLowMemory.Error()
		}
	}

	cat, err := catalog.Ingest(tbl, c.cfg.Bands, opts)
	if err != nil {
		return err
	}
	c.cat = cat
	c.index = spatial.New(cat.SceneCoords())
	c.bounds = priors.MakeBounds(cat, c.cfg.Bounds)
	c.covs = priors.NewCovStore(cat.Len(), cat.Schema().NParams())
	c.radius = scene.NewRadiusBuilder(cat, c.index, scene.RadiusParams{
		BoundaryRadius: c.cfg.BoundaryRadius,
		MaxRadius:      c.cfg.MaxRadius,
		MinRadius:      c.cfg.MinRadius,
		NScale:         c.cfg.NScale,
		MaxActive:      c.cfg.MaxActivePerPatch,
	})
	c.fof = scene.NewFoFBuilder(cat, c.index, scene.FoFParams{
		BoundaryRadius: c.cfg.BoundaryRadius,
		MinRadius:      c.cfg.MinRadius,
		Buffer:         c.cfg.Buffer,
		MaxActive:      c.cfg.MaxActivePerPatch,
		MaxFixed:       c.cfg.MaxFixed,
		Strict:         c.cfg.Strict,
	})
	c.logs = durable.NewLogs()
	c.nActive, c.nFixed = 0, 0
	mActive.Set(0)
	return nil
}

// Checkout claims a region around the given seed, or around a weighted-random
// seed when the argument is negative. On success every returned active record
// is exclusively claimed until checked back in; fixed records are marked
// invalid but may still appear as fixed context elsewhere. A conflict leaves
// all state untouched and is retryable.
func (c *Coordinator) Checkout(seed int) (*Checkout, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cat == nil {
		mCheckouts.WithLabelValues("error").Inc()
		return nil, core.ErrNoCatalog.Error()
	}
	if seed >= c.cat.Len() {
		mCheckouts.WithLabelValues("error").Inc()
		log.Errorf("checkout seed %d outside catalog of %d sources", seed, c.cat.Len())
		return nil, core.ErrBadRecordKey.Error()
	}
	if seed < 0 {
		seed = drawSeed(c.rng, c.seedWeights())
		if seed < 0 {
			mCheckouts.WithLabelValues("conflict").Inc()
			return nil, core.ErrOverlapConflict.Error()
		}
	}

	var (
		region        scene.Region
		active, fixed []int
		err           error
	)
	if c.cfg.UseFoF {
		region, active, fixed, err = c.fof.GrowScene(seed)
	} else {
		cur := c.cat.Record(seed)
		cx, cy := c.cat.Frame().SkyToScene(cur.RA, cur.Dec)
		var radius float64
		radius, active, fixed, err = c.radius.Build(cx, cy)
		region = scene.Region{RA: cur.RA, Dec: cur.Dec, Radius: radius}
	}
	if err != nil {
		if core.ErrOverlapConflict.Is(err) {
			mCheckouts.WithLabelValues("conflict").Inc()
		} else {
			mCheckouts.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	for _, i := range active {
		r := c.cat.Record(i)
		r.IsActive = true
		r.IsValid = false
	}
	for _, i := range fixed {
		c.cat.Record(i).IsValid = false
	}
	c.nActive += len(active)
	c.nFixed += len(fixed)
	mActive.Set(float64(c.nActive))
	mCheckouts.WithLabelValues("ok").Inc()

	return &Checkout{
		Region: region,
		Active: c.cat.Copies(active),
		Fixed:  c.cat.Copies(fixed),
	}, nil
}

// Checkin merges worker results back into the catalog: parameter columns are
// overwritten, iteration and patch counters advance, and every touched record
// returns to the idle (valid, inactive) state. Covariance updates fail soft;
// a bad record key fails hard before any state changes.
func (c *Coordinator) Checkin(req *CheckinReq) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cat == nil {
		return core.ErrNoCatalog.Error()
	}
	nb := c.cat.Schema().NBands()
	np := c.cat.Schema().NParams()

	// Resolve and validate everything before mutating. A bad record key is a
	// caller contract violation and must not half-apply a checkin.
	activeIdx := make([]int, len(req.Active))
	for i := range req.Active {
		k := int(req.Active[i].SourceIndex)
		if k < 0 || k >= c.cat.Len() {
			log.Errorf("checkin active record %d has bad source index %d", i, k)
			return core.ErrBadRecordKey.Error()
		}
		if len(req.Active[i].Flux) != nb {
			log.Errorf("checkin active record %d carries %d bands, want %d",
				i, len(req.Active[i].Flux), nb)
			return core.ErrSchema.Error()
		}
		activeIdx[i] = k
	}
	fixedIdx := make([]int, len(req.Fixed))
	for i := range req.Fixed {
		k := int(req.Fixed[i].SourceIndex)
		if k < 0 || k >= c.cat.Len() {
			log.Errorf("checkin fixed record %d has bad source index %d", i, k)
			return core.ErrBadRecordKey.Error()
		}
		fixedIdx[i] = k
	}
	if req.Bounds != nil {
		if len(req.Bounds) != len(req.Active) {
			log.Errorf("checkin carries %d bounds rows for %d active records",
				len(req.Bounds), len(req.Active))
			return core.ErrBoundsViolation.Error()
		}
		for i, row := range req.Bounds {
			if len(row) != np {
				log.Errorf("checkin bounds row %d has %d intervals, want %d", i, len(row), np)
				return core.ErrBoundsViolation.Error()
			}
		}
	}

	for i, k := range activeIdx {
		upd := &req.Active[i]
		rec := c.cat.Record(k)
		copy(rec.Flux, upd.Flux)
		rec.RA, rec.Dec = upd.RA, upd.Dec
		rec.Q, rec.PA = upd.Q, upd.PA
		rec.Sersic, rec.Rhalf = upd.Sersic, upd.Rhalf

		rec.NIter += req.NIter
		if req.NIter > 0 {
			rec.NPatch++
		}
		rec.IsActive = false
		rec.IsValid = true
	}
	for _, k := range fixedIdx {
		c.cat.Record(k).IsValid = true
	}
	c.nActive -= len(activeIdx)
	c.nFixed -= len(fixedIdx)
	mActive.Set(float64(c.nActive))
	mCheckins.Inc()
	if req.NIter > 0 {
		mIters.Add(float64(len(activeIdx)) * float64(req.NIter))
	}

	if req.Bounds != nil {
		for i, k := range activeIdx {
			if err := c.bounds.SetRow(k, req.Bounds[i]); err != nil {
				return err
			}
		}
	}

	// Posterior curvature is advisory. Never let a malformed block keep
	// records out of circulation.
	if req.Covs != nil {
		if err := c.covs.UpdateBlocks(activeIdx, req.Covs); err != nil {
			log.Warningf("could not update covariance blocks: %s", err)
		}
	}

	if req.TaskID != "" {
		ids := make([]int32, len(activeIdx))
		for i, k := range activeIdx {
			ids[i] = c.cat.Record(k).ID
		}
		c.logs.Append(ids, req.TaskID)
	}

	if req.Flush {
		return c.persistLocked(c.cfg.SnapshotPath)
	}
	return nil
}

// BoundsAndCovs returns copies of the bounds rows and the joint block-diagonal
// covariance for the given catalog indices, in the given order.
func (c *Coordinator) BoundsAndCovs(indices []int) ([][]priors.Interval, *priors.BlockDiag, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cat == nil {
		return nil, nil, core.ErrNoCatalog.Error()
	}
	for _, k := range indices {
		if k < 0 || k >= c.cat.Len() {
			return nil, nil, core.ErrBadRecordKey.Error()
		}
	}
	cov, err := c.covs.BlockDiag(indices)
	if err != nil {
		return nil, nil, err
	}
	return c.bounds.Rows(indices), cov, nil
}

// CheckBounds verifies every catalog parameter sits strictly inside its
// bounds interval.
func (c *Coordinator) CheckBounds() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cat == nil {
		return core.ErrNoCatalog.Error()
	}
	return priors.CheckBounds(c.cat, c.bounds)
}

// AdjustBounds widens flux bounds per the given options, optionally clamping
// fluxes into the widened intervals, and re-checks the catalog against the
// result.
func (c *Coordinator) AdjustBounds(opts priors.AdjustOptions) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cat == nil {
		return core.ErrNoCatalog.Error()
	}
	return priors.AdjustBounds(c.cat, c.bounds, opts)
}

// BoundVectors flattens the bounds of the given sources into lower/upper
// vectors in parameter order, with positions re-expressed relative to the
// given reference coordinate. This is the shape samplers consume.
func (c *Coordinator) BoundVectors(indices []int, refRA, refDec float64) (lower, upper []float64, err error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cat == nil {
		return nil, nil, core.ErrNoCatalog.Error()
	}
	for _, k := range indices {
		if k < 0 || k >= c.cat.Len() {
			return nil, nil, core.ErrBadRecordKey.Error()
		}
	}
	lower, upper = priors.BoundsVectors(c.bounds, indices, refRA, refDec)
	return lower, upper, nil
}

// Done reports whether every source has reached the iteration target. It
// never mutates state.
func (c *Coordinator) Done() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cat == nil {
		return false
	}
	target := float64(c.cfg.TargetNIter)
	for i := 0; i < c.cat.Len(); i++ {
		if math.Abs(float64(c.cat.Record(i).NIter)) < target {
			return false
		}
	}
	return true
}

// Sparse reports whether the claimed fraction of the catalog is still below
// the configured ceiling, i.e. whether more checkouts are welcome.
func (c *Coordinator) Sparse() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cat == nil || c.cat.Len() == 0 {
		return false
	}
	return float64(c.nActive)/float64(c.cat.Len()) < c.cfg.MaxActiveFraction
}

// Reset forces every record back to idle and zeroes the iteration and patch
// counters. This is the supervisory escape hatch for crashed workers, which
// otherwise leave their records claimed forever.
func (c *Coordinator) Reset() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cat == nil {
		return core.ErrNoCatalog.Error()
	}
	for i := 0; i < c.cat.Len(); i++ {
		r := c.cat.Record(i)
		r.IsActive = false
		r.IsValid = true
		r.NIter = 0
		r.NPatch = 0
	}
	c.nActive, c.nFixed = 0, 0
	mActive.Set(0)
	return nil
}

// Stats is a point-in-time summary of dispatcher progress.
type Stats struct {
	NSources int
	NActive  int
	NFixed   int
	NValid   int
	NDone    int
	NPatches int
	Sparse   bool
	Done     bool
}

// Stats summarizes progress for status pages and logs.
func (c *Coordinator) Stats() Stats {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cat == nil {
		return Stats{}
	}
	s := Stats{
		NSources: c.cat.Len(),
		NActive:  c.nActive,
		NFixed:   c.nFixed,
		NValid:   c.cat.CountValid(),
		NPatches: len(c.logs.PatchLog),
		Done:     true,
	}
	target := float64(c.cfg.TargetNIter)
	for i := 0; i < c.cat.Len(); i++ {
		if math.Abs(float64(c.cat.Record(i).NIter)) >= target {
			s.NDone++
		} else {
			s.Done = false
		}
	}
	s.Sparse = float64(c.nActive)/float64(c.cat.Len()) < c.cfg.MaxActiveFraction
	return s
}

// Table flattens the current catalog into a column table, or nil before
// ingest. The result is a copy.
func (c *Coordinator) Table() *catalog.Table {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cat == nil {
		return nil
	}
	return c.cat.AsTable()
}

// TaskLogs returns a copy of the audit logs.
func (c *Coordinator) TaskLogs() *durable.Logs {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.logs.Clone()
}

// Groups labels every source with its friends-of-friends group id.
func (c *Coordinator) Groups() ([]int32, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cat == nil {
		return nil, core.ErrNoCatalog.Error()
	}
	return c.fof.GroupCatalog(), nil
}

// Overlapping returns copies of the sources whose ROI overlaps the given sky
// circle (center in degrees, radius in arcsec).
func (c *Coordinator) Overlapping(ra, dec, radius float64) ([]catalog.Record, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cat == nil {
		return nil, core.ErrNoCatalog.Error()
	}
	return c.fof.OverlapCircle(ra, dec, radius), nil
}

// Source returns a copy of the source at the given catalog index.
func (c *Coordinator) Source(i int) (catalog.Record, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cat == nil {
		return catalog.Record{}, core.ErrNoCatalog.Error()
	}
	if i < 0 || i >= c.cat.Len() {
		return catalog.Record{}, core.ErrBadRecordKey.Error()
	}
	return c.cat.Copy(i), nil
}

// Nearest returns a copy of the source closest to the given sky position and
// its distance in arcsec. Distances use ingest positions.
func (c *Coordinator) Nearest(ra, dec float64) (catalog.Record, float64, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cat == nil {
		return catalog.Record{}, 0, core.ErrNoCatalog.Error()
	}
	cx, cy := c.cat.Frame().SkyToScene(ra, dec)
	i, d := c.index.Nearest(spatial.Point{cx, cy})
	if i < 0 {
		return catalog.Record{}, 0, core.ErrBadRecordKey.Error()
	}
	return c.cat.Copy(i), d, nil
}

// Persist writes the full dispatcher state to the given path, or to the
// configured snapshot path when empty. The write is not atomic with respect
// to in-flight checkouts; quiesce first if crash consistency matters.
func (c *Coordinator) Persist(path string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.persistLocked(path)
}

func (c *Coordinator) persistLocked(path string) error {
	if c.cat == nil {
		return core.ErrNoCatalog.Error()
	}
	if path == "" {
		path = c.cfg.SnapshotPath
	}
	if path == "" {
		log.Errorf("no snapshot path configured")
		return core.ErrBadConfig.Error()
	}
	return durable.Save(path, c.snapshotLocked())
}

// Checkpoint writes the dispatcher state as a single portable compressed
// file, for backup or transfer between hosts. Unlike Persist there is no
// configured fallback path.
func (c *Coordinator) Checkpoint(path string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cat == nil {
		return core.ErrNoCatalog.Error()
	}
	if path == "" {
		log.Errorf("no checkpoint path given")
		return core.ErrBadConfig.Error()
	}
	return durable.WriteCheckpoint(path, c.snapshotLocked())
}

func (c *Coordinator) snapshotLocked() *durable.Snapshot {
	n := c.cat.Len()
	covs := make([][]float64, n)
	for i := 0; i < n; i++ {
		covs[i] = c.covs.Block(i)
	}
	return &durable.Snapshot{
		Bands:  c.cat.Schema().Bands(),
		Table:  c.cat.AsTable(),
		Bounds: c.bounds.Rows(all(n)),
		Covs:   covs,
		Logs:   c.logs.Clone(),
	}
}

// Restore loads a persisted snapshot. Every record comes back idle with its
// persisted parameters and counters; claims outstanding at persist time are
// deliberately dropped, so interrupted patches get re-dispatched.
func (c *Coordinator) Restore(path string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if path == "" {
		path = c.cfg.SnapshotPath
	}
	snap, err := durable.Load(path)
	if err != nil {
		return err
	}
	return c.adoptSnapshot(snap)
}

// RestoreCheckpoint loads a portable checkpoint archive, with the same
// claim-dropping semantics as Restore.
func (c *Coordinator) RestoreCheckpoint(path string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	snap, err := durable.ReadCheckpoint(path)
	if err != nil {
		return err
	}
	return c.adoptSnapshot(snap)
}

func (c *Coordinator) adoptSnapshot(snap *durable.Snapshot) error {
	if err := c.ingestLocked(snap.Table, catalog.IngestOptions{ROI: snap.Table.Col("roi")}); err != nil {
		return err
	}

	// Bounds and covariance blocks carry over only when the snapshot matches
	// the configured schema; otherwise ingest already rebuilt them.
	np := c.cat.Schema().NParams()
	if rows := snap.Bounds; len(rows) == c.cat.Len() && (len(rows) == 0 || len(rows[0]) == np) {
		for i, row := range rows {
			if err := c.bounds.SetRow(i, row); err != nil {
				return err
			}
		}
	} else if snap.Bounds != nil {
		log.Warningf("snapshot bounds do not fit the configured bands, rebuilding from the catalog")
	}
	if len(snap.Covs) == c.cat.Len() {
		if err := c.covs.UpdateBlocks(all(c.cat.Len()), snap.Covs); err != nil {
			log.Warningf("dropping persisted covariance blocks: %s", err)
		}
	} else if snap.Covs != nil {
		log.Warningf("snapshot covariance does not fit the configured bands, reset to identity")
	}
	if snap.Logs != nil {
		c.logs = snap.Logs
	}
	return nil
}

// SeedWeights returns the current seed draw weights, one per source. Claimed
// and invalid sources weigh zero. This is the distribution a negative-seed
// Checkout draws from.
func (c *Coordinator) SeedWeights() ([]float64, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cat == nil {
		return nil, core.ErrNoCatalog.Error()
	}
	return c.seedWeights(), nil
}

func (c *Coordinator) seedWeights() []float64 {
	if c.cfg.Weighting == WeightSigmoid {
		return sigmoidWeights(c.cat, c.cfg.TargetNIter)
	}
	return expWeights(c.cat, c.cfg.SeedSigma)
}

func all(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
