// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package series

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShortBuffer is returned by Decode when buf does not contain a
// complete, well-formed payload.
var ErrShortBuffer = errors.New("series: short buffer")

// Encode serializes ts into its wire payload:
//
//	4 bytes label_count
//	for each label: 4 bytes key_len, key bytes, 4 bytes value_len, value bytes
//	4 bytes sample_count
//	for each sample: 8 bytes timestamp (signed), 8 bytes IEEE-754 value
//
// This is the payload that goes inside a WAL record, i.e. it does not
// include the record's own 4-byte length prefix.
func Encode(ts *TimeSeries) []byte {
	size := 4
	ts.Labels.Range(func(name, value string) {
		size += 4 + len(name) + 4 + len(value)
	})
	size += 4 + len(ts.Samples)*16

	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(ts.Labels.Len()))
	off += 4
	ts.Labels.Range(func(name, value string) {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(name)))
		off += 4
		off += copy(buf[off:], name)
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(value)))
		off += 4
		off += copy(buf[off:], value)
	})
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(ts.Samples)))
	off += 4
	for _, s := range ts.Samples {
		binary.LittleEndian.PutUint64(buf[off:], uint64(s.Timestamp))
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(s.Value))
		off += 8
	}
	return buf
}

// Decode parses a payload produced by Encode. It returns ErrShortBuffer
// (never panics) if buf is truncated or internally inconsistent, so that
// callers performing WAL replay can treat it as a skippable, corrupt
// record rather than crash the process.
func Decode(buf []byte) (*TimeSeries, error) {
	r := reader{buf: buf}

	labelCount, ok := r.u32()
	if !ok {
		return nil, ErrShortBuffer
	}
	// Each label contributes at least two 4-byte length prefixes, so a
	// count claiming more labels than the remaining buffer could possibly
	// hold is corrupt; reject it before sizing an allocation off it.
	if uint64(labelCount) > uint64(len(r.buf)-r.off)/8 {
		return nil, ErrShortBuffer
	}
	labels := make([]Label, 0, labelCount)
	for i := uint32(0); i < labelCount; i++ {
		name, ok := r.str()
		if !ok {
			return nil, ErrShortBuffer
		}
		value, ok := r.str()
		if !ok {
			return nil, ErrShortBuffer
		}
		labels = append(labels, Label{Name: name, Value: value})
	}

	sampleCount, ok := r.u32()
	if !ok {
		return nil, ErrShortBuffer
	}
	// Each sample is exactly 16 bytes (8-byte timestamp, 8-byte value);
	// reject a count that could not possibly fit in what remains.
	if uint64(sampleCount) > uint64(len(r.buf)-r.off)/16 {
		return nil, ErrShortBuffer
	}
	samples := make([]Sample, 0, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		ts, ok := r.i64()
		if !ok {
			return nil, ErrShortBuffer
		}
		bits, ok := r.u64()
		if !ok {
			return nil, ErrShortBuffer
		}
		samples = append(samples, Sample{Timestamp: ts, Value: math.Float64frombits(bits)})
	}

	if !r.empty() {
		// Trailing garbage: treat the same as corruption, not success.
		// Tolerant callers (replay) still get a clean error to skip on.
		return nil, ErrShortBuffer
	}

	out := &TimeSeries{Samples: samples}
	out.Labels = NewLabelSet(labels...)
	return out, nil
}

// reader is a tiny bounds-checked cursor over a byte slice, used so that
// Decode never panics on truncated input.
type reader struct {
	buf []byte
	off int
}

func (r *reader) u32() (uint32, bool) {
	if len(r.buf)-r.off < 4 {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, true
}

func (r *reader) u64() (uint64, bool) {
	if len(r.buf)-r.off < 8 {
		return 0, false
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, true
}

func (r *reader) i64() (int64, bool) {
	v, ok := r.u64()
	return int64(v), ok
}

func (r *reader) str() (string, bool) {
	n, ok := r.u32()
	if !ok {
		return "", false
	}
	if len(r.buf)-r.off < int(n) {
		return "", false
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, true
}

func (r *reader) empty() bool { return r.off == len(r.buf) }
