// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"testing"

	"github.com/ClusterCockpit/tscore/pkg/series"
)

func seriesFor(id series.ID, ts int64, v float64) *series.TimeSeries {
	return &series.TimeSeries{Samples: []series.Sample{{Timestamp: ts, Value: v}}}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU(2, 0)
	c.Put(1, seriesFor(1, 1, 1))
	c.Put(2, seriesFor(2, 1, 2))

	// Touch 1 so 2 becomes the LRU entry.
	c.Get(1)

	result := c.Put(3, seriesFor(3, 1, 3))
	if result.Evicted == nil || result.EvictedID != 2 {
		t.Fatalf("expected eviction of id 2, got %+v", result)
	}
	if c.Get(2) != nil {
		t.Fatalf("id 2 should have been evicted")
	}
	if c.Get(1) == nil || c.Get(3) == nil {
		t.Fatalf("ids 1 and 3 should remain cached")
	}
}

func TestLRUPutMergeAppendsOnlyNewerSamples(t *testing.T) {
	c := NewLRU(8, 0)
	c.Put(1, seriesFor(1, 100, 1.0))
	result := c.Put(1, &series.TimeSeries{Samples: []series.Sample{
		{Timestamp: 50, Value: 99},  // stale, dropped
		{Timestamp: 200, Value: 2.0}, // newer, appended
	}})
	if !result.Merged {
		t.Fatalf("expected a merge, got %+v", result)
	}

	got := c.Get(1)
	if len(got.Samples) != 2 {
		t.Fatalf("expected 2 samples after merge, got %d: %+v", len(got.Samples), got.Samples)
	}
	if got.Samples[1].Timestamp != 200 {
		t.Fatalf("expected appended sample at ts=200, got %+v", got.Samples[1])
	}
}

func TestLRUHitMissCounters(t *testing.T) {
	c := NewLRU(8, 0)
	c.Put(1, seriesFor(1, 1, 1))

	c.Get(1)
	c.Get(2)

	hits, misses := c.HitsMisses()
	if hits != 1 || misses != 1 {
		t.Fatalf("hits=%d misses=%d, want 1/1", hits, misses)
	}
}

func TestLRUByteBound(t *testing.T) {
	small := seriesFor(1, 1, 1).ApproxByteSize()
	c := NewLRU(0, small)
	c.Put(1, seriesFor(1, 1, 1))
	if !c.IsFull() {
		t.Fatalf("expected cache to report full once byte bound is reached")
	}
}

func TestLRUEvictLRUAndTake(t *testing.T) {
	c := NewLRU(8, 0)
	c.Put(1, seriesFor(1, 1, 1))
	c.Put(2, seriesFor(2, 1, 2))

	id, ts, _, ok := c.EvictLRUAndTake()
	if !ok || id != 1 || ts == nil {
		t.Fatalf("expected to evict id 1, got id=%d ok=%v", id, ok)
	}
	if c.Size() != 1 {
		t.Fatalf("size = %d, want 1", c.Size())
	}
}
