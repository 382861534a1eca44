// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"sync"
	"testing"

	"github.com/ClusterCockpit/tscore/internal/config"
	"github.com/ClusterCockpit/tscore/pkg/series"
)

type memColdStore struct {
	mu   sync.Mutex
	data map[series.ID]*series.TimeSeries
}

func newMemColdStore() *memColdStore {
	return &memColdStore{data: make(map[series.ID]*series.TimeSeries)}
}

func (m *memColdStore) Persist(id series.ID, ts *series.TimeSeries) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = ts
	return true
}

func (m *memColdStore) Load(id series.ID) (*series.TimeSeries, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.data[id]
	return ts, ok
}

func TestHierarchyCascadesL1OverflowToL2(t *testing.T) {
	cs := newMemColdStore()
	h := NewHierarchy(
		config.L1{MaxEntries: 1},
		config.L2{MaxEntries: 1},
		cs,
		config.Hierarchy{},
	)
	defer h.Close()

	h.Put(1, seriesFor(1, 1, 1))
	h.Put(2, seriesFor(2, 1, 2)) // evicts 1 from L1 into L2
	h.Put(3, seriesFor(3, 1, 3)) // evicts 2 from L1 into L2, evicts 1 from L2 into L3

	if h.l1.Get(3) == nil {
		t.Fatalf("id 3 should be in L1")
	}
	if h.l2.Get(2) == nil {
		t.Fatalf("id 2 should have cascaded into L2")
	}
	if _, ok := cs.Load(1); !ok {
		t.Fatalf("id 1 should have cascaded all the way into the cold store")
	}
}

func TestHierarchyPromotesOnAccessThreshold(t *testing.T) {
	cs := newMemColdStore()
	h := NewHierarchy(
		config.L1{MaxEntries: 8},
		config.L2{MaxEntries: 8},
		cs,
		config.Hierarchy{L1PromotionThreshold: 3},
	)
	defer h.Close()

	h.l2.Put(42, seriesFor(42, 1, 1))

	for i := 0; i < 3; i++ {
		h.Get(42)
	}

	stats := h.Stats()
	if stats.PromotionsL2ToL1 != 1 {
		t.Fatalf("expected one L2->L1 promotion, got %d", stats.PromotionsL2ToL1)
	}
	if h.l1.Get(42) == nil {
		t.Fatalf("id 42 should now be resident in L1")
	}
}

func TestHierarchyColdHitRepopulatesL2(t *testing.T) {
	cs := newMemColdStore()
	cs.Persist(7, seriesFor(7, 5, 5))

	h := NewHierarchy(
		config.L1{MaxEntries: 8},
		config.L2{MaxEntries: 8},
		cs,
		config.Hierarchy{},
	)
	defer h.Close()

	ts := h.Get(7)
	if ts == nil {
		t.Fatalf("expected cold hit for id 7")
	}
	if h.l2.Get(7) == nil {
		t.Fatalf("expected cold hit to repopulate L2")
	}
}

func TestHierarchyPutMergesRegardlessOfTier(t *testing.T) {
	h := NewHierarchy(config.L1{MaxEntries: 8}, config.L2{MaxEntries: 8}, nil, config.Hierarchy{})
	defer h.Close()

	h.Put(1, seriesFor(1, 100, 1))
	h.l1.Remove(1)
	h.l2.PutEntry(1, seriesFor(1, 100, 1), Metadata{})

	h.Put(1, &series.TimeSeries{Samples: []series.Sample{{Timestamp: 200, Value: 2}}})

	got := h.l2.Get(1)
	if got == nil || len(got.Samples) != 2 {
		t.Fatalf("expected put to merge into the existing L2 entry, got %+v", got)
	}
}
