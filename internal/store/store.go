// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store ties the WAL, cache hierarchy, predictive cache and
// filtering front-end together behind a single external surface:
// init/close, write, read, flush, stats (there is no set query). This is the facade an
// ingestion front door (internal/ingest) or a direct caller writes
// against; it owns none of the wire formats itself, only the data-flow
// between the components that do.
package store

import (
	"fmt"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ClusterCockpit/tscore/internal/cache"
	"github.com/ClusterCockpit/tscore/internal/config"
	"github.com/ClusterCockpit/tscore/internal/filter"
	"github.com/ClusterCockpit/tscore/internal/predictive"
	"github.com/ClusterCockpit/tscore/internal/wal"
	"github.com/ClusterCockpit/tscore/pkg/series"
	"github.com/ClusterCockpit/tscore/pkg/tserrors"
)

// Store is the storage core's entry point: every write lands in the
// sharded WAL and the cache hierarchy; every read is served from the
// hierarchy, which falls through to the cold store on its own.
type Store struct {
	cfg       config.Config
	wal       *wal.ShardedWAL
	hierarchy *cache.Hierarchy
	predictor *predictive.Predictor
	filter    *filter.Filter
}

// Options bundles the dependencies Init wires together; ColdStore may
// be nil (no L3), and Filter may be nil (no keep/drop policy, nothing
// is ever dropped).
type Options struct {
	Config    config.Config
	ColdStore cache.ColdStore
	Filter    *filter.Filter
}

// Init opens the WAL (replaying any existing segments is the caller's
// responsibility via Replay, kept separate so startup ordering is
// explicit) and builds the cache hierarchy and predictive cache.
func Init(baseDir string, opts Options) (*Store, error) {
	w, err := wal.Open(baseDir, opts.Config.WAL)
	if err != nil {
		return nil, fmt.Errorf("store: open wal: %w", err)
	}

	h := cache.NewHierarchy(opts.Config.L1, opts.Config.L2, opts.ColdStore, opts.Config.Hierarchy)
	p := predictive.New(opts.Config.Predictive)

	f := opts.Filter
	if f == nil {
		f = filter.New(filter.RuleSet{})
	}

	cclog.Infof("[store]> initialized with %d WAL shards", w.NumShards())
	return &Store{cfg: opts.Config, wal: w, hierarchy: h, predictor: p, filter: f}, nil
}

// Replay restores the cache hierarchy's warm state from the WAL's
// on-disk segments, typically called once at startup before serving
// any traffic.
func (s *Store) Replay() (int, error) {
	return s.wal.Replay(func(ts *series.TimeSeries) error {
		s.hierarchy.Put(ts.ID(), ts)
		return nil
	})
}

// Write validates, filters, durably logs, and caches ts. The call only
// returns success once the WAL has accepted the record (queued for a
// flush, not necessarily fsynced yet -- durability is completed by
// Flush).
func (s *Store) Write(ts *series.TimeSeries) error {
	if ts == nil {
		return tserrors.ErrInvalidArgument
	}
	if ts.Labels.Len() == 0 {
		return fmt.Errorf("%w: series has no labels", tserrors.ErrInvalidArgument)
	}

	if s.filter.ShouldDrop(ts, time.Now()) {
		return nil
	}

	if err := s.wal.Log(ts); err != nil {
		return fmt.Errorf("%w: %s", tserrors.ErrIO, err.Error())
	}

	s.hierarchy.Put(ts.ID(), ts)
	return nil
}

// Read serves a point query for the series matching labels, falling
// through the cache hierarchy to the cold store; the [start, end) range
// is applied to the result's samples. Returns (nil, nil) on a clean
// miss: a read miss returns null, not an error.
func (s *Store) Read(labels series.LabelSet, start, end int64) (*series.TimeSeries, error) {
	id := series.SeriesID(&labels)
	s.predictor.RecordAccess(id)

	full := s.hierarchy.Get(id)
	if full == nil {
		return nil, nil
	}

	out := &series.TimeSeries{Labels: full.Labels}
	for _, sample := range full.Samples {
		if sample.Timestamp >= start && sample.Timestamp < end {
			out.Samples = append(out.Samples, sample)
		}
	}
	return out, nil
}

// Flush blocks until every WAL shard's queue is drained and fsynced.
// A flush with nothing pending still succeeds.
func (s *Store) Flush() {
	s.wal.Flush()
}

// Checkpoint retains only the newest keepN WAL segments per shard, once
// the cache hierarchy and/or cold store are known to hold everything
// older than that.
func (s *Store) Checkpoint(keepN int) error {
	return s.wal.Checkpoint(keepN)
}

// Close flushes and closes the WAL and stops the hierarchy's background
// maintenance goroutine.
func (s *Store) Close() error {
	s.hierarchy.Close()
	return s.wal.Close()
}

// Predictor exposes the predictive cache so a prefetch loop (run by the
// caller, since prefetching needs a cold-store round trip the store
// itself should not block Write/Read on) can read predictions and report
// outcomes back.
func (s *Store) Predictor() *predictive.Predictor { return s.predictor }

// Hierarchy exposes the cache hierarchy for components (derived-metric
// scheduler, obsmetrics) that need direct access beyond Read/Write.
func (s *Store) Hierarchy() *cache.Hierarchy { return s.hierarchy }

// WAL exposes the sharded WAL for components that need direct access
// (obsmetrics, checkpoint scheduling).
func (s *Store) WAL() *wal.ShardedWAL { return s.wal }

// Filter exposes the keep/drop filter so it can be hot-reloaded.
func (s *Store) Filter() *filter.Filter { return s.filter }

// Stats renders a human-readable snapshot of every subsystem's
// counters.
func (s *Store) Stats() string {
	writes, bytes, errs := s.wal.Stats()
	hstats := s.hierarchy.Stats()
	evals, drops, avgLatency := s.filter.Stats()

	return fmt.Sprintf(
		"wal{shards=%d writes=%d bytes=%d errors=%d} "+
			"cache{l1_size=%d l1_hits=%d l1_misses=%d l2_size=%d l2_hits=%d l2_misses=%d "+
			"promotions_l2_l1=%d promotions_l3_l2=%d demotions_l1_l2=%d demotions_l2_l3=%d} "+
			"filter{evaluations=%d drops=%d avg_latency=%s} "+
			"predictor{current_k=%d}",
		s.wal.NumShards(), writes, bytes, errs,
		hstats.L1Size, hstats.L1Hits, hstats.L1Misses, hstats.L2Size, hstats.L2Hits, hstats.L2Misses,
		hstats.PromotionsL2ToL1, hstats.PromotionsL3ToL2, hstats.DemotionsL1ToL2, hstats.DemotionsL2ToL3,
		evals, drops, avgLatency,
		s.predictor.CurrentK(),
	)
}
