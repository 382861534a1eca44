// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ClusterCockpit/tscore/internal/config"
	"github.com/ClusterCockpit/tscore/pkg/series"
)

func makeSeries(metric, host string, ts int64, v float64) *series.TimeSeries {
	return &series.TimeSeries{
		Labels:  series.NewLabelSet(series.Label{Name: "metric", Value: metric}, series.Label{Name: "host", Value: host}),
		Samples: []series.Sample{{Timestamp: ts, Value: v}},
	}
}

func TestRoundTripOneSample(t *testing.T) {
	dir := t.TempDir()
	shard, err := OpenShard(ShardConfig{Dir: dir, QueueDepth: 16, RotationBytes: DefaultRotationBytes})
	if err != nil {
		t.Fatalf("OpenShard: %v", err)
	}

	ts := makeSeries("cpu", "a", 1000, 1.0)
	if err := shard.Log(ts); err != nil {
		t.Fatalf("Log: %v", err)
	}
	shard.Flush()
	if err := shard.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got []*series.TimeSeries
	n, err := Replay(dir, func(s *series.TimeSeries) error {
		got = append(got, s)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if n != 1 || len(got) != 1 {
		t.Fatalf("replay yielded %d series, want 1", n)
	}
	if len(got[0].Samples) != 1 || got[0].Samples[0] != (series.Sample{Timestamp: 1000, Value: 1.0}) {
		t.Fatalf("replayed sample = %+v", got[0].Samples)
	}
	if !got[0].Labels.Equal(ts.Labels) {
		t.Fatalf("replayed labels = %+v, want %+v", got[0].Labels, ts.Labels)
	}
}

func TestConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	shard, err := OpenShard(ShardConfig{Dir: dir, QueueDepth: 64, RotationBytes: DefaultRotationBytes})
	if err != nil {
		t.Fatalf("OpenShard: %v", err)
	}

	const threads = 8
	const perThread = 100

	var wg sync.WaitGroup
	wg.Add(threads)
	for i := 0; i < threads; i++ {
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perThread; j++ {
				ts := makeSeries("m", fmt.Sprintf("thread=%d,iter=%d", i, j), int64(1000+j), float64(j))
				if err := shard.Log(ts); err != nil {
					t.Errorf("Log: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	shard.Flush()
	if err := shard.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	count, err := Replay(dir, func(*series.TimeSeries) error { return nil })
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != threads*perThread {
		t.Fatalf("replay yielded %d series, want %d", count, threads*perThread)
	}
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	// A small rotation threshold makes it easy to cross the boundary
	// without writing tens of megabytes in a test.
	const rotation = 4096
	shard, err := OpenShard(ShardConfig{Dir: dir, QueueDepth: 1024, RotationBytes: rotation})
	if err != nil {
		t.Fatalf("OpenShard: %v", err)
	}

	longValue := make([]byte, 64)
	for i := range longValue {
		longValue[i] = 'x'
	}

	const n = 5000
	for i := 0; i < n; i++ {
		ts := &series.TimeSeries{
			Labels:  series.NewLabelSet(series.Label{Name: "host", Value: string(longValue) + fmt.Sprint(i)}),
			Samples: []series.Sample{{Timestamp: int64(i), Value: float64(i)}},
		}
		if err := shard.Log(ts); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	shard.Flush()
	if err := shard.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected at least 2 segments after rotation, got %d", len(entries))
	}

	var order []int64
	count, err := Replay(dir, func(s *series.TimeSeries) error {
		order = append(order, s.Samples[0].Timestamp)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != n {
		t.Fatalf("replay yielded %d series, want %d", count, n)
	}
	for i, ts := range order {
		if ts != int64(i) {
			t.Fatalf("replay out of submission order at %d: %d", i, ts)
		}
	}
}

func TestCorruptionMidSegmentDropsLastRecord(t *testing.T) {
	dir := t.TempDir()
	shard, err := OpenShard(ShardConfig{Dir: dir, QueueDepth: 1024, RotationBytes: DefaultRotationBytes})
	if err != nil {
		t.Fatalf("OpenShard: %v", err)
	}

	const n = 100
	for i := 0; i < n; i++ {
		if err := shard.Log(makeSeries("m", fmt.Sprint(i), int64(i), float64(i))); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	shard.Flush()
	if err := shard.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	path := segmentFileName(dir, 0)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-3); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	count, err := Replay(dir, func(*series.TimeSeries) error { return nil })
	if err != nil {
		t.Fatalf("Replay after truncation: %v", err)
	}
	if count != n-1 {
		t.Fatalf("replay after truncation yielded %d, want %d", count, n-1)
	}
}

func TestMissingShardDirReplaysEmpty(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does-not-exist")
	count, err := Replay(dir, func(*series.TimeSeries) error { return nil })
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
}

func TestShardIndexStableAcrossProcesses(t *testing.T) {
	sw := &ShardedWAL{shards: make([]*Shard, 16)}
	ls := series.NewLabelSet(series.Label{Name: "metric", Value: "cpu"}, series.Label{Name: "host", Value: "a"})
	idx1 := sw.ShardIndex(&ls)

	ls2 := series.NewLabelSet(series.Label{Name: "host", Value: "a"}, series.Label{Name: "metric", Value: "cpu"})
	idx2 := sw.ShardIndex(&ls2)

	if idx1 != idx2 {
		t.Fatalf("shard index depends on insertion order: %d != %d", idx1, idx2)
	}
}

func TestShardedWALEndToEnd(t *testing.T) {
	base := t.TempDir()
	sw, err := Open(base, config.WAL{Shards: 4, QueueDepthPerShard: 64, SegmentSizeBytes: config.DefaultSegmentSizeBytes})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	const n = 200
	for i := 0; i < n; i++ {
		if err := sw.Log(makeSeries("m", fmt.Sprint(i), int64(i), float64(i))); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	sw.Flush()

	if err := sw.Checkpoint(10); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	count := 0
	if _, err := sw.Replay(func(*series.TimeSeries) error { count++; return nil }); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != n {
		t.Fatalf("replay yielded %d, want %d", count, n)
	}

	if err := sw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	writes, _, _ := sw.Stats()
	if writes != n {
		t.Fatalf("Stats().writes = %d, want %d", writes, n)
	}
}
