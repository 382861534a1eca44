// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package series defines the label set, sample and time series types
// shared by the write-ahead log and cache hierarchy.
package series

import (
	"sort"
)

// ID identifies a time series at runtime. Two processes that derive the
// ID from the same label set must arrive at the same value.
type ID uint64

// Label is a single name/value pair of a LabelSet.
type Label struct {
	Name  string
	Value string
}

// LabelSet is a mapping from non-empty label name to value. Names are
// unique; equality and ordering are defined lexicographically over the
// sorted (name, value) pairs so that two label sets built in different
// insertion order compare and hash identically.
type LabelSet struct {
	labels []Label // kept sorted by Name by NewLabelSet
	hash   uint64
	hashed bool
}

// NewLabelSet builds a LabelSet from unsorted pairs, sorting them once.
func NewLabelSet(labels ...Label) LabelSet {
	ls := LabelSet{labels: append([]Label(nil), labels...)}
	sort.Slice(ls.labels, func(i, j int) bool { return ls.labels[i].Name < ls.labels[j].Name })
	return ls
}

// Len returns the number of labels.
func (ls LabelSet) Len() int { return len(ls.labels) }

// Get returns the value for name and whether it was present.
func (ls LabelSet) Get(name string) (string, bool) {
	for _, l := range ls.labels {
		if l.Name == name {
			return l.Value, true
		}
	}
	return "", false
}

// Range calls f for every label in sorted-by-name order.
func (ls LabelSet) Range(f func(name, value string)) {
	for _, l := range ls.labels {
		f(l.Name, l.Value)
	}
}

// Equal reports whether two label sets contain the same pairs.
func (ls LabelSet) Equal(other LabelSet) bool {
	if len(ls.labels) != len(other.labels) {
		return false
	}
	for i, l := range ls.labels {
		if l != other.labels[i] {
			return false
		}
	}
	return true
}

// Less defines the total order over label sets used by the query layer
// for deterministic iteration; it compares sorted pairs lexicographically.
func (ls LabelSet) Less(other LabelSet) bool {
	for i := 0; i < len(ls.labels) && i < len(other.labels); i++ {
		a, b := ls.labels[i], other.labels[i]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Value != b.Value {
			return a.Value < b.Value
		}
	}
	return len(ls.labels) < len(other.labels)
}

// fnv1aOffset and fnv1aPrime implement the 64-bit FNV-1a hash used for
// individual label strings before they are folded into the rolling hash.
const (
	fnv1aOffset = 14695981039346656037
	fnv1aPrime  = 1099511628211
)

func fnv1a(s string) uint64 {
	h := uint64(fnv1aOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnv1aPrime
	}
	return h
}

// rollingConst is the mixing constant used by the shard-selection hash
// ("C = 0x9e3779b9").
const rollingConst = 0x9e3779b9

// Hash returns the 64-bit rolling hash over the label set in key-sorted
// order, memoized after first computation. The same label set always
// yields the same hash, in the same process or a different one.
func (ls *LabelSet) Hash() uint64 {
	if ls.hashed {
		return ls.hash
	}
	var h uint64
	for _, l := range ls.labels {
		h ^= fnv1a(l.Name) + rollingConst + (h << 6) + (h >> 2)
		h ^= fnv1a(l.Value) + rollingConst + (h << 6) + (h >> 2)
	}
	ls.hash = h
	ls.hashed = true
	return h
}

// SeriesID derives the runtime series ID from a label set. It is a pure
// function of the label set's contents: the same labels always produce
// the same ID, in any process.
func SeriesID(ls *LabelSet) ID {
	return ID(ls.Hash())
}

// Sample is a single (timestamp, value) measurement. Timestamps are
// milliseconds since the Unix epoch. NaN and +-Inf are legal values.
type Sample struct {
	Timestamp int64
	Value     float64
}

// TimeSeries is a label set plus an ordered sequence of samples.
// Samples are expected to be appended in non-decreasing timestamp order
// by a single writer; duplicate timestamps are permitted.
type TimeSeries struct {
	Labels  LabelSet
	Samples []Sample
}

// ID returns the runtime identifier for this series' label set.
func (ts *TimeSeries) ID() ID {
	return SeriesID(&ts.Labels)
}

// LastTimestamp returns the timestamp of the last sample, or
// the minimum int64 if the series has no samples yet.
func (ts *TimeSeries) LastTimestamp() int64 {
	if len(ts.Samples) == 0 {
		return minInt64
	}
	return ts.Samples[len(ts.Samples)-1].Timestamp
}

const minInt64 = -1 << 63

// MergeAppend appends to dst every sample of src whose timestamp is
// strictly greater than dst's current last timestamp: duplicates and
// out-of-order samples are silently dropped, old samples are never
// rewritten.
func MergeAppend(dst *TimeSeries, src *TimeSeries) int {
	last := dst.LastTimestamp()
	appended := 0
	for _, s := range src.Samples {
		if s.Timestamp > last {
			dst.Samples = append(dst.Samples, s)
			last = s.Timestamp
			appended++
		}
	}
	return appended
}

// ApproxByteSize estimates the in-memory footprint of a series the way
// the cache hierarchy's memory budget requires: a fixed
// per-label cost plus a fixed per-sample cost plus overhead.
func (ts *TimeSeries) ApproxByteSize() int64 {
	const (
		perLabel  = 32
		perSample = 16 // int64 timestamp + float64 value
		overhead  = 64
	)
	return int64(ts.Labels.Len())*perLabel + int64(len(ts.Samples))*perSample + overhead
}

// Clone returns a deep copy of ts, used whenever a series needs to cross
// an ownership boundary (e.g. WAL enqueue) without aliasing the caller's
// backing arrays.
func (ts *TimeSeries) Clone() *TimeSeries {
	out := &TimeSeries{
		Labels:  LabelSet{labels: append([]Label(nil), ts.Labels.labels...), hash: ts.Labels.hash, hashed: ts.Labels.hashed},
		Samples: append([]Sample(nil), ts.Samples...),
	}
	return out
}
