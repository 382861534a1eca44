// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package filter implements keep/drop label filtering: an immutable
// rule set that can be swapped in as a whole without blocking
// concurrent evaluation, evaluated against every incoming series before
// it reaches the WAL or cache hierarchy.
//
// The lock-free swap is grounded on the same atomic-counter discipline
// the WAL shard uses for its write/byte/error counters
// (internal/wal/shard.go), generalized from sync/atomic.Uint64 to
// sync/atomic.Pointer so an entire rule set can be replaced in one
// atomic store instead of being mutated field-by-field under a mutex.
package filter

import (
	"sync/atomic"
	"time"

	"github.com/ClusterCockpit/tscore/pkg/series"
)

// Rule matches one label (by exact name, and optionally exact value) and
// says whether a match should keep or drop the series.
type Rule struct {
	LabelName  string
	LabelValue string // empty matches any value for LabelName
	Keep       bool   // true = keep-list entry, false = drop-list entry
}

func (r Rule) matches(ls *series.LabelSet) bool {
	v, ok := ls.Get(r.LabelName)
	if !ok {
		return false
	}
	return r.LabelValue == "" || v == r.LabelValue
}

// RuleSet is an immutable, ordered collection of rules plus a staleness
// threshold. Keep rules take precedence over drop rules: if any keep
// rule matches, the series is never dropped regardless of drop rules.
type RuleSet struct {
	Rules             []Rule
	StalenessThreshold time.Duration
}

// Filter holds the currently active RuleSet behind an atomic pointer so
// Evaluate never blocks on a concurrent Replace.
type Filter struct {
	current atomic.Pointer[RuleSet]

	evaluations atomic.Uint64
	drops       atomic.Uint64
	totalNanos  atomic.Uint64
}

// New constructs a Filter with the given initial rule set.
func New(rs RuleSet) *Filter {
	f := &Filter{}
	f.current.Store(&rs)
	return f
}

// Replace atomically swaps in a new rule set. In-flight evaluations
// using the old set run to completion unaffected.
func (f *Filter) Replace(rs RuleSet) {
	f.current.Store(&rs)
}

// Rules returns the currently active rule set (a copy of the slice
// header; the underlying Rule slice is never mutated in place).
func (f *Filter) Rules() RuleSet {
	return *f.current.Load()
}

// ShouldDrop evaluates ts against the active rule set: a series whose
// last sample is older than StalenessThreshold is
// dropped outright; otherwise keep rules are checked first (any match
// forces a keep), then drop rules (any match forces a drop); a series
// matching neither is kept by default.
func (f *Filter) ShouldDrop(ts *series.TimeSeries, now time.Time) bool {
	start := time.Now()
	defer func() {
		f.evaluations.Add(1)
		f.totalNanos.Add(uint64(time.Since(start).Nanoseconds()))
	}()

	rs := f.current.Load()

	if rs.StalenessThreshold > 0 {
		last := ts.LastTimestamp()
		if last >= 0 && now.Sub(time.UnixMilli(last)) > rs.StalenessThreshold {
			f.drops.Add(1)
			return true
		}
	}

	sawDropMatch := false
	for _, r := range rs.Rules {
		if !r.matches(&ts.Labels) {
			continue
		}
		if r.Keep {
			return false
		}
		sawDropMatch = true
	}
	if sawDropMatch {
		f.drops.Add(1)
	}
	return sawDropMatch
}

// Stats reports the running evaluation count, drop count, and average
// evaluation latency, for the status surface.
func (f *Filter) Stats() (evaluations, drops uint64, avgLatency time.Duration) {
	evaluations = f.evaluations.Load()
	drops = f.drops.Load()
	if evaluations == 0 {
		return evaluations, drops, 0
	}
	avgLatency = time.Duration(f.totalNanos.Load() / evaluations)
	return evaluations, drops, avgLatency
}
