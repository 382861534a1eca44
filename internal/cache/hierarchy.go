// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ClusterCockpit/tscore/internal/config"
	"github.com/ClusterCockpit/tscore/pkg/series"
)

// ColdStore is the L3 callback contract: a cold tier that can persist
// an evicted series and load it back on demand. The
// hierarchy never evicts from L3 itself; L3 is assumed to have its own
// (unbounded, or separately managed) retention.
type ColdStore interface {
	Persist(id series.ID, ts *series.TimeSeries) bool
	Load(id series.ID) (*series.TimeSeries, bool)
}

// Hierarchy composes L1 and L2 in-memory LRU tiers with an L3 cold
// store, applying a promotion/demotion policy. A
// sync.Mutex serializes Get/Put against the background maintenance
// pass; the lock is re-entrant in effect because maintenance never
// calls back into Get/Put while holding it, only into the tier-level
// primitives directly.
type Hierarchy struct {
	mu sync.Mutex

	l1 *LRU
	l2 *LRU
	l3 ColdStore

	cfg config.Hierarchy

	promotionsL2ToL1 uint64
	promotionsL3ToL2 uint64
	demotionsL1ToL2  uint64
	demotionsL2ToL3  uint64

	stopBackground chan struct{}
	bgDone         chan struct{}
}

// NewHierarchy builds a three-level cache from pre-sized L1/L2 tiers and
// an L3 cold store. l3 may be nil, in which case demotions out of L2
// simply drop the series (acceptable for tests and for deployments that
// run without a cold tier).
func NewHierarchy(l1Cfg config.L1, l2Cfg config.L2, l3 ColdStore, cfg config.Hierarchy) *Hierarchy {
	h := &Hierarchy{
		l1:  NewLRU(l1Cfg.MaxEntries, l1Cfg.MaxBytes),
		l2:  NewLRU(l2Cfg.MaxEntries, l2Cfg.MaxBytes),
		l3:  l3,
		cfg: cfg,
	}
	if cfg.EnableBackgroundProcessing {
		h.startBackground()
	}
	return h
}

// Get looks up id across all three tiers in order, promoting on the way
// up once the access-count thresholds are crossed. Returns nil if id
// is not present anywhere.
func (h *Hierarchy) Get(id series.ID) *series.TimeSeries {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ts := h.l1.Get(id); ts != nil {
		return ts
	}

	if ts := h.l2.Get(id); ts != nil {
		if count, ok := h.l2.AccessCount(id); ok && count >= int64(h.cfg.L1PromotionThreshold) {
			h.promoteL2ToL1(id)
		}
		return ts
	}

	if h.l3 != nil {
		if ts, ok := h.l3.Load(id); ok {
			// A cold hit always promotes straight to L2 rather than L1,
			// entering L2 at its most-recently-used position.
			h.l2.Put(id, ts)
			h.promotionsL3ToL2++
			return ts
		}
	}

	return nil
}

// Put merges ts into whichever tier currently holds id, or inserts it
// into L1 if id is new everywhere. Any entry evicted from L1 to make
// room cascades into L2, and any entry evicted from L2 cascades into
// L3 (if configured).
func (h *Hierarchy) Put(id series.ID, ts *series.TimeSeries) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.l1.Metadata(id); ok {
		h.l1.Put(id, ts) // Put merges in place when id already exists.
		return
	}
	if _, ok := h.l2.Metadata(id); ok {
		h.l2.Put(id, ts)
		return
	}

	result := h.l1.Put(id, ts)
	if result.Evicted != nil {
		h.cascadeToL2(result.EvictedID, result.Evicted)
	}
}

func (h *Hierarchy) promoteL2ToL1(id series.ID) {
	if !h.l1.HasRoom() {
		// Promotion must never force an L1 eviction; skip
		// and let the next background pass or a future access retry.
		return
	}
	_, ts, meta, ok := h.l2.takeStale(id)
	if !ok {
		return
	}
	meta.Tier = LevelL1
	h.l1.PutEntry(id, ts, meta)
	h.promotionsL2ToL1++
}

func (h *Hierarchy) cascadeToL2(id series.ID, ts *series.TimeSeries) {
	result := h.l2.Put(id, ts)
	h.demotionsL1ToL2++
	if result.Evicted != nil {
		h.cascadeToL3(result.EvictedID, result.Evicted)
	}
}

func (h *Hierarchy) cascadeToL3(id series.ID, ts *series.TimeSeries) {
	h.demotionsL2ToL3++
	if h.l3 == nil {
		return
	}
	if !h.l3.Persist(id, ts) {
		cclog.Warnf("[cache]> failed to persist series %d to cold store on eviction", id)
	}
}

// Stats reports the current population and hit/miss counters of each
// tier, for the status/metrics surface.
type Stats struct {
	L1Size, L2Size                     int
	L1Hits, L1Misses, L2Hits, L2Misses uint64
	PromotionsL2ToL1, PromotionsL3ToL2 uint64
	DemotionsL1ToL2, DemotionsL2ToL3   uint64
}

func (h *Hierarchy) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	l1h, l1m := h.l1.HitsMisses()
	l2h, l2m := h.l2.HitsMisses()
	return Stats{
		L1Size: h.l1.Size(), L2Size: h.l2.Size(),
		L1Hits: l1h, L1Misses: l1m, L2Hits: l2h, L2Misses: l2m,
		PromotionsL2ToL1: h.promotionsL2ToL1, PromotionsL3ToL2: h.promotionsL3ToL2,
		DemotionsL1ToL2: h.demotionsL1ToL2, DemotionsL2ToL3: h.demotionsL2ToL3,
	}
}

// startBackground launches the periodic maintenance pass: entries that
// have gone quiet past their tier's demotion timeout and whose access
// count is at or below the tier's demotion threshold are pushed down a
// level.
func (h *Hierarchy) startBackground() {
	h.stopBackground = make(chan struct{})
	h.bgDone = make(chan struct{})
	interval := time.Duration(h.cfg.BackgroundIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		defer close(h.bgDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopBackground:
				return
			case <-ticker.C:
				h.runMaintenance()
			}
		}
	}()
}

// runMaintenance demotes L1 entries idle past L1DemotionTimeoutSeconds
// into L2, then L2 entries idle past L2DemotionTimeoutSeconds into L3.
// It takes the hierarchy lock for the whole pass: short-held per-tier
// scans would let a concurrent Put race a demotion decision made against
// stale metadata.
func (h *Hierarchy) runMaintenance() {
	h.mu.Lock()
	defer h.mu.Unlock()

	l1Timeout := time.Duration(h.cfg.L1DemotionTimeoutSeconds) * time.Second
	l2Timeout := time.Duration(h.cfg.L2DemotionTimeoutSeconds) * time.Second

	h.demoteStale(h.l1, h.l2, l1Timeout, h.cfg.L1DemotionThreshold, h.cascadeToL2NoCount)
	h.demoteStale(h.l2, nil, l2Timeout, h.cfg.L2DemotionThreshold, h.cascadeToL3NoCount)
}

// demoteStale walks every id in src whose last access exceeds timeout
// and whose access count is at or below threshold, moving it to dst if
// dst is non-nil, and then handing it to sink in either case (sink
// counts the demotion and, when dst is nil, persists it to L3).
func (h *Hierarchy) demoteStale(src, dst *LRU, timeout time.Duration, threshold int64, sink func(series.ID, *series.TimeSeries, Metadata)) {
	now := time.Now()
	for _, id := range src.IDs() {
		meta, ok := src.Metadata(id)
		if !ok {
			continue
		}
		if now.Sub(meta.LastAccess) < timeout {
			continue
		}
		if meta.AccessCount > threshold {
			continue
		}
		id, ts, meta, ok := src.takeStale(id)
		if !ok {
			continue
		}
		if dst != nil {
			meta.Tier++
			result := dst.PutEntry(id, ts, meta)
			if result.Evicted != nil {
				h.cascadeToL3(result.EvictedID, result.Evicted)
			}
		}
		sink(id, ts, meta)
	}
}

func (h *Hierarchy) cascadeToL2NoCount(id series.ID, ts *series.TimeSeries, _ Metadata) {
	h.demotionsL1ToL2++
}

func (h *Hierarchy) cascadeToL3NoCount(id series.ID, ts *series.TimeSeries, _ Metadata) {
	h.demotionsL2ToL3++
	if h.l3 == nil {
		return
	}
	if !h.l3.Persist(id, ts) {
		cclog.Warnf("[cache]> failed to persist series %d to cold store during background demotion", id)
	}
}

// Close stops the background maintenance goroutine, if running.
func (h *Hierarchy) Close() {
	if h.stopBackground == nil {
		return
	}
	close(h.stopBackground)
	<-h.bgDone
}
