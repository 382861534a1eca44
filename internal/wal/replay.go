// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wal

import (
	"encoding/binary"
	"io"
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/tscore/pkg/series"
)

// maxRecordLength is a sane ceiling on a single record's length: a
// field above this is treated as corruption rather than trusted.
const maxRecordLength = 1 << 30 // 1 GiB

// replaySegment reads every well-framed, well-decoded record from path
// and invokes callback for each. It tolerates:
//
//	(a) a truncated length at EOF            -> stop cleanly
//	(b) a length extending past EOF          -> stop cleanly
//	(c) a zero or over-ceiling length        -> stop cleanly, rest of file is corrupt
//	(d) a record that fails to decode        -> skip it, keep reading
//
// It returns the number of records successfully decoded and applied.
func replaySegment(path string, callback func(*series.TimeSeries) error) (int, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()

	var (
		lenBuf [lengthPrefixBytes]byte
		offset int64
		count  int
	)
	for {
		n, err := io.ReadFull(f, lenBuf[:])
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n < lengthPrefixBytes) {
			// (a) truncated length prefix.
			return count, nil
		}
		if err != nil {
			return count, err
		}
		offset += int64(n)

		length := binary.LittleEndian.Uint32(lenBuf[:])
		if length == 0 || length > maxRecordLength {
			// (c) implausible length: rest of the segment is corrupt.
			cclog.Warnf("[WAL]> %s: implausible record length %d at offset %d, stopping replay of this segment", path, length, offset-lengthPrefixBytes)
			return count, nil
		}
		if offset+int64(length) > size {
			// (b) length runs past end of file.
			return count, nil
		}

		payload := make([]byte, length)
		n, err = io.ReadFull(f, payload)
		offset += int64(n)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}

		ts, decodeErr := series.Decode(payload)
		if decodeErr != nil {
			// (d) skip the bad record, the frame length is known so we
			// can keep reading subsequent records.
			cclog.Warnf("[WAL]> %s: skipping record at offset %d: %s", path, offset-int64(length), decodeErr.Error())
			continue
		}

		if err := callback(ts); err != nil {
			return count, err
		}
		count++
	}
}
