// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cache implements the three-level cache hierarchy: two bounded,
// in-process LRU tiers (L1, L2) composed with a callback-backed L3, plus
// promotion/demotion and background maintenance.
//
// The LRU tier uses an intrusive doubly-linked list plus a map from key
// to node, generalized from string keys and a single-value-replace Put
// to series IDs and put-merge semantics.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClusterCockpit/tscore/pkg/series"
)

// Level tags which tier an entry is currently believed to reside in.
type Level int

const (
	LevelL1 Level = iota
	LevelL2
)

// Metadata is mutated only on access; the series pointer inside an entry
// is replaced wholesale on a merge rather than mutated in place.
type Metadata struct {
	Created    time.Time
	LastAccess time.Time
	AccessCount int64
	ByteSize   int64
	Tier       Level
}

type node struct {
	id       series.ID
	value    *series.TimeSeries
	meta     Metadata
	next, prev *node
}

// LRU is a bounded, thread-safe LRU cache mapping a series ID to a
// shared-ownership time series plus access metadata.
// The intrusive list and the id->node map are always kept in lock-step:
// every id in the map points to a valid list node and vice versa.
type LRU struct {
	mu sync.Mutex

	maxEntries int
	maxBytes   int64
	usedBytes  int64

	entries    map[series.ID]*node
	head, tail *node

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewLRU creates a tier bounded by maxEntries and, if positive, maxBytes.
func NewLRU(maxEntries int, maxBytes int64) *LRU {
	return &LRU{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		entries:    make(map[series.ID]*node),
	}
}

// Get returns the cached series for id, moving it to MRU position and
// incrementing its access count on a hit. Returns nil on a miss.
func (c *LRU) Get(id series.ID) *series.TimeSeries {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.entries[id]
	if !ok {
		c.misses.Add(1)
		return nil
	}
	c.hits.Add(1)
	n.meta.LastAccess = time.Now()
	n.meta.AccessCount++
	c.moveToFront(n)
	return n.value
}

// AccessCount reports the current access count for id without bumping it
// (used by the hierarchy's promotion/demotion predicates).
func (c *LRU) AccessCount(id series.ID) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[id]
	if !ok {
		return 0, false
	}
	return n.meta.AccessCount, true
}

// LastAccess reports the last-access time for id.
func (c *LRU) LastAccess(id series.ID) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return n.meta.LastAccess, true
}

// PutResult reports what Put did, so the hierarchy can cascade a
// displaced entry to the next tier.
type PutResult struct {
	Merged   bool          // id already existed; ts was merged into it
	Inserted bool          // id is now present at MRU (new or merged)
	Evicted  *series.TimeSeries // non-nil if inserting forced an LRU eviction
	EvictedID series.ID
}

// Put inserts ts at MRU. If id already exists, put-merge semantics
// apply: only samples strictly newer than the cached
// series' last timestamp are appended, duplicates and out-of-order
// samples are silently dropped. If the cache is at capacity and a new
// id is being inserted, the LRU entry is evicted first and returned in
// PutResult so the hierarchy can cascade it to a lower level.
func (c *LRU) Put(id series.ID, ts *series.TimeSeries) PutResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if n, ok := c.entries[id]; ok {
		merged := n.value.Clone()
		series.MergeAppend(merged, ts)
		n.value = merged
		c.usedBytes += n.value.ApproxByteSize() - n.meta.ByteSize
		n.meta.ByteSize = n.value.ApproxByteSize()
		n.meta.LastAccess = now
		n.meta.AccessCount++
		c.moveToFront(n)
		return PutResult{Merged: true, Inserted: true}
	}

	var result PutResult
	for c.isFull() && c.tail != nil {
		evicted := c.tail
		c.unlink(evicted)
		delete(c.entries, evicted.id)
		c.usedBytes -= evicted.meta.ByteSize
		result.Evicted = evicted.value
		result.EvictedID = evicted.id
	}

	n := &node{
		id:    id,
		value: ts,
		meta: Metadata{
			Created:     now,
			LastAccess:  now,
			AccessCount: 1,
			ByteSize:    ts.ApproxByteSize(),
		},
	}
	c.entries[id] = n
	c.usedBytes += n.meta.ByteSize
	c.pushFront(n)
	result.Inserted = true
	return result
}

// PutEntry inserts an already-built node verbatim, preserving its
// metadata (access count, creation time). This is what the hierarchy
// uses to move an entry between tiers without losing its history, as
// opposed to Put which starts fresh metadata for brand-new series.
func (c *LRU) PutEntry(id series.ID, ts *series.TimeSeries, meta Metadata) PutResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result PutResult
	for c.isFull() && c.tail != nil {
		evicted := c.tail
		c.unlink(evicted)
		delete(c.entries, evicted.id)
		c.usedBytes -= evicted.meta.ByteSize
		result.Evicted = evicted.value
		result.EvictedID = evicted.id
	}

	meta.ByteSize = ts.ApproxByteSize()
	n := &node{id: id, value: ts, meta: meta}
	c.entries[id] = n
	c.usedBytes += n.meta.ByteSize
	c.pushFront(n)
	result.Inserted = true
	return result
}

// Remove drops id if present, returning whether it was present.
func (c *LRU) Remove(id series.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[id]
	if !ok {
		return false
	}
	c.unlink(n)
	delete(c.entries, id)
	c.usedBytes -= n.meta.ByteSize
	return true
}

// EvictLRUAndTake removes and returns the least-recently-used entry,
// used by the hierarchy to cascade an entry down to a lower level.
func (c *LRU) EvictLRUAndTake() (series.ID, *series.TimeSeries, Metadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tail == nil {
		return 0, nil, Metadata{}, false
	}
	n := c.tail
	c.unlink(n)
	delete(c.entries, n.id)
	c.usedBytes -= n.meta.ByteSize
	return n.id, n.value, n.meta, true
}

// takeStale removes and returns the entry for id if it is still
// present, used by the hierarchy's background demotion pass which looks
// up a stale id's metadata and then must remove exactly that entry
// (not necessarily the current LRU tail).
func (c *LRU) takeStale(id series.ID) (series.ID, *series.TimeSeries, Metadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[id]
	if !ok {
		return id, nil, Metadata{}, false
	}
	c.unlink(n)
	delete(c.entries, id)
	c.usedBytes -= n.meta.ByteSize
	return id, n.value, n.meta, true
}

// Size returns the current number of entries.
func (c *LRU) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// MaxSize returns the configured entry-count bound.
func (c *LRU) MaxSize() int { return c.maxEntries }

// IsFull reports whether the cache is at its entry or byte bound.
func (c *LRU) IsFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isFull()
}

func (c *LRU) isFull() bool {
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		return true
	}
	if c.maxBytes > 0 && c.usedBytes >= c.maxBytes {
		return true
	}
	return false
}

// HasRoom reports whether at least one more entry could be inserted
// without evicting anything (used by promotion, which must never force
// an eviction).
func (c *LRU) HasRoom() bool {
	return !c.IsFull()
}

// HitsMisses returns the atomic hit/miss counters.
func (c *LRU) HitsMisses() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// ResetStats clears the hit/miss counters.
func (c *LRU) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
}

// IDs returns a snapshot of every ID currently cached, used by the
// hierarchy's background maintenance pass.
func (c *LRU) IDs() []series.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]series.ID, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// Metadata returns a copy of the metadata for id, if present.
func (c *LRU) Metadata(id series.ID) (Metadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[id]
	if !ok {
		return Metadata{}, false
	}
	return n.meta, true
}

func (c *LRU) pushFront(n *node) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *LRU) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (c *LRU) moveToFront(n *node) {
	if c.head == n {
		return
	}
	c.unlink(n)
	c.pushFront(n)
}
