// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package scene

import (
	"math"
	"sort"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/wrensuess/forcepho/internal/catalog"
	"github.com/wrensuess/forcepho/internal/core"
	"github.com/wrensuess/forcepho/internal/spatial"
)

// FoFParams sizes friends-of-friends regions.
type FoFParams struct {
	// BoundaryRadius bounds the candidate search and acts as the assumed
	// maximum ROI when querying the index. Arcsec.
	BoundaryRadius float64

	// MinRadius floors the region radius; Buffer pads it beyond the
	// outermost active member's ROI. Arcsec.
	MinRadius float64
	Buffer    float64

	// MaxActive caps the active set. MaxFixed caps the fixed set and
	// defaults to MaxActive when zero.
	MaxActive int
	MaxFixed  int

	// Strict leaves slots empty rather than splitting a group across
	// patches; the first group always admits partially so a seed is never
	// wasted.
	Strict bool

	// GroupCacheSize bounds the memoized connected components. Groups are a
	// pure function of ingest-frozen positions and ROI, so entries never go
	// stale. Zero means 1024.
	GroupCacheSize int
}

// FoFBuilder groups records by transitive ROI overlap: two records overlap
// iff dist(i,j)/(roi_i+roi_j) < 1. Activating whole groups avoids splitting
// a physically connected set across two patches, which would double-count
// flux.
type FoFBuilder struct {
	cat   *catalog.Catalog
	index *spatial.KDTree
	p     FoFParams

	lock   sync.Mutex
	groups *lru.Cache
}

// NewFoFBuilder wires a builder to a catalog and its ingest index.
func NewFoFBuilder(cat *catalog.Catalog, index *spatial.KDTree, p FoFParams) *FoFBuilder {
	if p.MaxFixed == 0 {
		p.MaxFixed = p.MaxActive
	}
	if p.GroupCacheSize == 0 {
		p.GroupCacheSize = 1024
	}
	return &FoFBuilder{
		cat:    cat,
		index:  index,
		p:      p,
		groups: lru.New(p.GroupCacheSize),
	}
}

// Overlaps returns the records whose ROI overlaps a circle of the given
// radius at scene center (cx, cy), excluding excludeSeed (pass -1 to keep
// everything). The overlap metric is dist/(radius+roi); results are
// optionally sorted ascending by it.
func (b *FoFBuilder) Overlaps(cx, cy, radius float64, excludeSeed int, sorted bool) []int {
	kinds := b.index.Within(spatial.Point{cx, cy}, radius+b.p.BoundaryRadius)
	type scored struct {
		idx int
		m   float64
	}
	var hits []scored
	for _, k := range kinds {
		if k == excludeSeed {
			continue
		}
		x, y := b.cat.SceneXY(k)
		m := math.Hypot(x-cx, y-cy) / (radius + b.cat.Record(k).ROI)
		if m >= 0 && m < 1 {
			hits = append(hits, scored{idx: k, m: m})
		}
	}
	if sorted {
		sort.SliceStable(hits, func(i, j int) bool {
			if hits[i].m != hits[j].m {
				return hits[i].m < hits[j].m
			}
			return hits[i].idx < hits[j].idx
		})
	}
	out := make([]int, len(hits))
	for i, h := range hits {
		out[i] = h.idx
	}
	return out
}

// GrowSource returns the full connected group of the seed under the overlap
// relation: a breadth-first closure, seed included, no duplicates, in
// discovery order. The result is memoized.
func (b *FoFBuilder) GrowSource(seed int) []int {
	if g, ok := b.cachedGroup(seed); ok {
		return g
	}

	visited := make(map[int]bool, 8)
	visited[seed] = true
	members := make([]int, 0, 8)
	frontier := []int{seed}
	for len(frontier) > 0 {
		members = append(members, frontier...)
		var next []int
		for _, s := range frontier {
			x, y := b.cat.SceneXY(s)
			for _, nb := range b.Overlaps(x, y, b.cat.Record(s).ROI, s, false) {
				if !visited[nb] {
					visited[nb] = true
					next = append(next, nb)
				}
			}
		}
		frontier = next
	}

	b.storeGroup(seed, members)
	return append([]int(nil), members...)
}

// GrowScene proposes a region by admitting whole groups in order of the
// overlap metric from the seed, then recentering on the admitted actives.
func (b *FoFBuilder) GrowScene(seed int) (Region, []int, []int, error) {
	sx, sy := b.cat.SceneXY(seed)
	cands := b.Overlaps(sx, sy, b.p.BoundaryRadius, -1, true)
	for _, k := range cands {
		if b.cat.Record(k).IsActive {
			return Region{}, nil, nil, core.ErrOverlapConflict.Error()
		}
	}

	// Groups are connected components, so distinct groups never intersect;
	// a candidate already admitted means its whole group was.
	var active []int
	admitted := make(map[int]bool)
	for _, s := range cands {
		if admitted[s] {
			continue
		}
		nAvail := b.p.MaxActive - len(active)
		group := b.GrowSource(s)
		if len(group) > nAvail {
			if !b.p.Strict || len(active) == 0 {
				for _, g := range group[:nAvail] {
					active = append(active, g)
					admitted[g] = true
				}
			}
			break
		}
		active = append(active, group...)
		for _, g := range group {
			admitted[g] = true
		}
	}
	if len(active) == 0 {
		return Region{}, nil, nil, core.ErrOverlapConflict.Error()
	}

	// Recenter on the mean sky position of the actives; the radius must
	// cover every member's frozen position plus its ROI plus the buffer.
	var cra, cdec float64
	for _, i := range active {
		cra += b.cat.Record(i).RA
		cdec += b.cat.Record(i).Dec
	}
	cra /= float64(len(active))
	cdec /= float64(len(active))
	cx, cy := b.cat.Frame().SkyToScene(cra, cdec)

	radius := 0.0
	for _, i := range active {
		x, y := b.cat.SceneXY(i)
		if r := math.Hypot(x-cx, y-cy) + b.cat.Record(i).ROI + b.p.Buffer; r > radius {
			radius = r
		}
	}
	if radius < b.p.MinRadius {
		radius = b.p.MinRadius
	}
	region := Region{RA: cra, Dec: cdec, Radius: radius}

	var fixed []int
	for _, k := range b.Overlaps(cx, cy, 1.2*radius, -1, true) {
		if admitted[k] {
			continue
		}
		fixed = append(fixed, k)
		if len(fixed) == b.p.MaxFixed {
			break
		}
	}
	return region, active, fixed, nil
}

// GroupCatalog labels every record with its friends-of-friends group id,
// scanning indices ascending so ids are deterministic.
func (b *FoFBuilder) GroupCatalog() []int32 {
	gid := make([]int32, b.cat.Len())
	for i := range gid {
		gid[i] = -1
	}
	next := int32(0)
	for i := 0; i < b.cat.Len(); i++ {
		if gid[i] >= 0 {
			continue
		}
		for _, m := range b.GrowSource(i) {
			gid[m] = next
		}
		next++
	}
	return gid
}

// OverlapCircle returns copies of the records whose ROI overlaps the given
// sky circle (center degrees, radius arcsec).
func (b *FoFBuilder) OverlapCircle(ra, dec, radius float64) []catalog.Record {
	cx, cy := b.cat.Frame().SkyToScene(ra, dec)
	return b.cat.Copies(b.Overlaps(cx, cy, radius, -1, false))
}

func (b *FoFBuilder) cachedGroup(seed int) ([]int, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if v, ok := b.groups.Get(seed); ok {
		return append([]int(nil), v.([]int)...), true
	}
	return nil, false
}

func (b *FoFBuilder) storeGroup(seed int, members []int) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.groups.Add(seed, append([]int(nil), members...))
}
