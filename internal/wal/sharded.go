// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wal

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ClusterCockpit/tscore/internal/config"
	"github.com/ClusterCockpit/tscore/pkg/series"
)

// ShardedWAL maps each incoming series to one of N shards deterministically
// and exposes a single facade over all of them.
type ShardedWAL struct {
	shards []*Shard

	totalWrites atomic.Uint64
	totalBytes  atomic.Uint64
	totalErrors atomic.Uint64
}

// Open opens (or resumes) a sharded WAL rooted at baseDir, creating one
// Shard per cfg.WAL.Shards under <base_dir>/shard_NNN/.
func Open(baseDir string, cfg config.WAL) (*ShardedWAL, error) {
	n := cfg.Shards
	if n <= 0 {
		n = config.DefaultShards
	}

	sw := &ShardedWAL{shards: make([]*Shard, n)}
	for i := 0; i < n; i++ {
		shard, err := OpenShard(ShardConfig{
			Dir:           shardDirName(baseDir, i),
			QueueDepth:    cfg.QueueDepthPerShard,
			RotationBytes: cfg.SegmentSizeBytes,
		})
		if err != nil {
			// Best-effort close of shards already opened.
			for j := 0; j < i; j++ {
				sw.shards[j].Close()
			}
			return nil, fmt.Errorf("wal: open shard %d: %w", i, err)
		}
		sw.shards[i] = shard
	}
	return sw, nil
}

// ShardIndex computes the deterministic shard index for a label set
// from its rolling hash.
func (sw *ShardedWAL) ShardIndex(ls *series.LabelSet) int {
	return int(ls.Hash() % uint64(len(sw.shards)))
}

// Log routes ts to its shard and enqueues it there.
func (sw *ShardedWAL) Log(ts *series.TimeSeries) error {
	idx := sw.ShardIndex(&ts.Labels)
	if err := sw.shards[idx].Log(ts); err != nil {
		sw.totalErrors.Add(1)
		return err
	}
	sw.totalWrites.Add(1)
	sw.totalBytes.Add(uint64(len(series.Encode(ts))))
	return nil
}

// Flush blocks until every shard's queue is empty and fsynced.
func (sw *ShardedWAL) Flush() {
	var g errgroup.Group
	for _, shard := range sw.shards {
		shard := shard
		g.Go(func() error {
			shard.Flush()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // Flush never returns an error from its shards
}

// Replay replays every shard in order, invoking callback for each
// successfully decoded series. Shards are replayed sequentially rather
// than in parallel, keeping callback invocation order simple to reason
// about per shard.
func (sw *ShardedWAL) Replay(callback func(*series.TimeSeries) error) (int, error) {
	total := 0
	for i, shard := range sw.shards {
		n, err := Replay(shard.cfg.Dir, callback)
		total += n
		if err != nil {
			return total, fmt.Errorf("wal: replay shard %d: %w", i, err)
		}
	}
	return total, nil
}

// Checkpoint retains only the newest keepN segments in every shard.
func (sw *ShardedWAL) Checkpoint(keepN int) error {
	var g errgroup.Group
	for _, shard := range sw.shards {
		dir := shard.cfg.Dir
		g.Go(func() error {
			return Checkpoint(dir, keepN)
		})
	}
	return g.Wait()
}

// Close closes every shard, returning the first error encountered.
func (sw *ShardedWAL) Close() error {
	var g errgroup.Group
	for _, shard := range sw.shards {
		shard := shard
		g.Go(shard.Close)
	}
	return g.Wait()
}

// Stats returns the total writes/bytes/errors counters, updated after
// each Log call.
func (sw *ShardedWAL) Stats() (writes, bytes, errs uint64) {
	return sw.totalWrites.Load(), sw.totalBytes.Load(), sw.totalErrors.Load()
}

// NumShards returns the number of shards in this WAL.
func (sw *ShardedWAL) NumShards() int { return len(sw.shards) }
