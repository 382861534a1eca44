// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wal implements a durable, sharded write-ahead log: a segment
// writer owning one append-only file, a shard that batches writes from
// a bounded queue to that file, and a router that fans writes out
// across shards by label-set hash.
package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

const (
	segmentFilePerm = 0o644
	segmentDirPerm  = 0o755

	segmentPrefix = "wal_"
	segmentSuffix = ".log"

	// DefaultRotationBytes is the default segment rotation threshold.
	DefaultRotationBytes = 64 * 1024 * 1024

	lengthPrefixBytes = 4
)

// segmentWriter owns one append-only file and provides ordered,
// length-framed writes with caller-controlled flushing.
// It is never shared between goroutines: exactly one WAL shard worker
// owns it.
type segmentWriter struct {
	dir      string
	rotation int64

	number int
	file   *os.File
	size   int64
}

// openSegmentWriter creates dir if needed, and opens segment 0 or,
// if segments already exist (resuming after a restart), the
// highest-numbered one, positioned at end-of-file.
func openSegmentWriter(dir string, rotation int64) (*segmentWriter, error) {
	if err := os.MkdirAll(dir, segmentDirPerm); err != nil {
		return nil, fmt.Errorf("wal: create segment dir: %w", err)
	}

	number := 0
	if existing, err := listSegmentNumbers(dir); err != nil {
		return nil, err
	} else if len(existing) > 0 {
		number = existing[len(existing)-1]
	}

	w := &segmentWriter{dir: dir, rotation: rotation}
	if err := w.openNumber(number); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *segmentWriter) openNumber(number int) error {
	name := segmentFileName(w.dir, number)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, segmentFilePerm)
	if err != nil {
		return fmt.Errorf("wal: open segment %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("wal: stat segment %s: %w", name, err)
	}
	w.file = f
	w.number = number
	w.size = info.Size()
	return nil
}

// write appends a 4-byte little-endian length followed by payload. If
// flushNow, the data is fsynced before returning. A short write or I/O
// error is reported as failure; the file is left in whatever
// (possibly truncated) state the OS produced, and the caller (the WAL
// shard worker) is responsible for counting it as an I/O failure.
func (w *segmentWriter) write(payload []byte, flushNow bool) (bool, error) {
	var lenBuf [lengthPrefixBytes]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	n, err := w.file.Write(lenBuf[:])
	w.size += int64(n)
	if err != nil || n != len(lenBuf) {
		return false, fmt.Errorf("wal: torn write of length prefix: %w", err)
	}

	n, err = w.file.Write(payload)
	w.size += int64(n)
	if err != nil || n != len(payload) {
		return false, fmt.Errorf("wal: torn write of payload: %w", err)
	}

	if flushNow {
		if err := w.file.Sync(); err != nil {
			return false, fmt.Errorf("wal: fsync: %w", err)
		}
	}
	return true, nil
}

// flush forces the OS buffer for the active segment to disk.
func (w *segmentWriter) flush() error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	return nil
}

// needsRotation reports whether the active segment has crossed the
// rotation threshold. Called only after a successful append, so that a
// record is never split across segments.
func (w *segmentWriter) needsRotation() bool {
	return w.size >= w.rotation
}

// rotate closes the current file and opens the next segment number.
func (w *segmentWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close segment for rotation: %w", err)
	}
	return w.openNumber(w.number + 1)
}

// close flushes and closes the active segment file.
func (w *segmentWriter) close() error {
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("wal: fsync on close: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close segment: %w", err)
	}
	return nil
}

func segmentFileName(dir string, number int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%06d%s", segmentPrefix, number, segmentSuffix))
}

// listSegmentNumbers scans dir for wal_*.log files and returns their
// numbers sorted ascending. A missing directory yields an empty, not an
// error, slice: a shard whose directory is missing replays as empty.
func listSegmentNumbers(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wal: read segment dir: %w", err)
	}

	var numbers []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix)
		n, err := strconv.Atoi(numStr)
		if err != nil {
			cclog.Warnf("[WAL]> ignoring unrecognized segment file name %q", name)
			continue
		}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers, nil
}
