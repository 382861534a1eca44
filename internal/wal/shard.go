// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/tscore/pkg/series"
)

// batchCap bounds how many queued series the worker drains per wake
// (on the order of 1,000 items).
const batchCap = 1000

// ShardConfig configures a single WAL shard.
type ShardConfig struct {
	Dir           string
	QueueDepth    int
	RotationBytes int64
}

// Shard is a bounded producer-consumer queue feeding one segment writer;
// the unit of single-writer discipline inside the WAL.
type Shard struct {
	cfg ShardConfig

	mu       sync.Mutex
	notEmpty *sync.Cond // worker waits on this when the queue is empty
	notFull  *sync.Cond // producers wait on this when the queue is full
	queue    []*series.TimeSeries
	closing  bool
	closed   bool

	flushSeq    uint64 // bumped each time the worker completes a batch+flush
	wantFlush   uint64 // highest flushSeq a Flush caller is waiting for
	flushWaiter *sync.Cond

	writer *segmentWriter

	writes atomic.Uint64
	bytes  atomic.Uint64
	errs   atomic.Uint64

	workerDone chan struct{}
}

// OpenShard opens (or resumes) the segment stream in cfg.Dir and starts
// the shard's worker goroutine.
func OpenShard(cfg ShardConfig) (*Shard, error) {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 10_000
	}
	if cfg.RotationBytes <= 0 {
		cfg.RotationBytes = DefaultRotationBytes
	}

	w, err := openSegmentWriter(cfg.Dir, cfg.RotationBytes)
	if err != nil {
		return nil, err
	}

	s := &Shard{
		cfg:        cfg,
		writer:     w,
		workerDone: make(chan struct{}),
	}
	s.notEmpty = sync.NewCond(&s.mu)
	s.notFull = sync.NewCond(&s.mu)
	s.flushWaiter = sync.NewCond(&s.mu)

	go s.run()
	return s, nil
}

// Log enqueues a copy of ts, blocking the caller when the queue is at
// cfg.QueueDepth. The caller's blocked rate is the admission controller:
// there is no drop-on-full policy here.
func (s *Shard) Log(ts *series.TimeSeries) error {
	cp := ts.Clone()

	s.mu.Lock()
	for len(s.queue) >= s.cfg.QueueDepth && !s.closing {
		s.notFull.Wait()
	}
	if s.closing {
		s.mu.Unlock()
		return fmt.Errorf("wal: shard closing")
	}
	s.queue = append(s.queue, cp)
	s.mu.Unlock()
	s.notEmpty.Signal()
	return nil
}

// Flush blocks until the queue is empty and the worker has fsynced at
// least once more after this call was made.
func (s *Shard) Flush() {
	s.mu.Lock()
	if len(s.queue) == 0 {
		// Nothing pending: a flush with no pending data still succeeds,
		// there is simply nothing new to wait for.
		s.mu.Unlock()
		return
	}
	target := s.flushSeq + 1
	s.notEmpty.Signal()
	for s.flushSeq < target && !s.closed {
		s.flushWaiter.Wait()
	}
	s.mu.Unlock()
}

// Close signals shutdown, drains the queue, and joins the worker.
func (s *Shard) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.notEmpty.Broadcast()
	s.notFull.Broadcast()
	<-s.workerDone
	return s.writer.close()
}

// Stats returns the shard's write/byte/error counters.
func (s *Shard) Stats() (writes, bytes, errs uint64) {
	return s.writes.Load(), s.bytes.Load(), s.errs.Load()
}

func (s *Shard) run() {
	defer close(s.workerDone)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closing {
			s.notEmpty.Wait()
		}
		if len(s.queue) == 0 && s.closing {
			s.closed = true
			s.mu.Unlock()
			s.flushWaiter.Broadcast()
			return
		}

		n := len(s.queue)
		if n > batchCap {
			n = batchCap
		}
		batch := s.queue[:n]
		s.queue = s.queue[n:]
		s.mu.Unlock()
		s.notFull.Broadcast()

		for _, ts := range batch {
			payload := series.Encode(ts)
			ok, err := s.writer.write(payload, false)
			if !ok || err != nil {
				s.errs.Add(1)
				cclog.Errorf("[WAL]> write failed in %s: %v", s.cfg.Dir, err)
				continue
			}
			s.writes.Add(1)
			s.bytes.Add(uint64(len(payload)))

			// Rotation check after each successful write so a record
			// is never split across segments.
			if s.writer.needsRotation() {
				if err := s.writer.rotate(); err != nil {
					s.errs.Add(1)
					cclog.Errorf("[WAL]> rotation failed in %s: %v", s.cfg.Dir, err)
				}
			}
		}

		if err := s.writer.flush(); err != nil {
			s.errs.Add(1)
			cclog.Errorf("[WAL]> flush failed in %s: %v", s.cfg.Dir, err)
		}

		s.mu.Lock()
		s.flushSeq++
		s.mu.Unlock()
		s.flushWaiter.Broadcast()
	}
}

// Replay scans dir for wal_*.log segments in order and invokes
// callback for each successfully decoded series.
func Replay(dir string, callback func(*series.TimeSeries) error) (int, error) {
	numbers, err := listSegmentNumbers(dir)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, n := range numbers {
		path := segmentFileName(dir, n)
		count, err := replaySegment(path, callback)
		total += count
		if err != nil {
			return total, fmt.Errorf("wal: replay %s: %w", path, err)
		}
	}
	return total, nil
}

// Checkpoint deletes segments older than the newest keepN.
func Checkpoint(dir string, keepN int) error {
	numbers, err := listSegmentNumbers(dir)
	if err != nil {
		return err
	}
	if len(numbers) <= keepN {
		return nil
	}

	sort.Ints(numbers)
	toDelete := numbers[:len(numbers)-keepN]
	for _, n := range toDelete {
		path := segmentFileName(dir, n)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("wal: checkpoint remove %s: %w", path, err)
		}
	}
	return nil
}

// shardDirName returns the <base_dir>/shard_NNN/ layout.
func shardDirName(baseDir string, index int) string {
	return filepath.Join(baseDir, fmt.Sprintf("shard_%03d", index))
}
