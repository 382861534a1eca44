// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package series

import (
	"math"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ts := &TimeSeries{
		Labels: NewLabelSet(Label{Name: "metric", Value: "cpu"}, Label{Name: "host", Value: "a"}),
		Samples: []Sample{
			{Timestamp: 1000, Value: 1.0},
			{Timestamp: 2000, Value: math.NaN()},
			{Timestamp: 3000, Value: math.Inf(1)},
		},
	}

	buf := Encode(ts)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !got.Labels.Equal(ts.Labels) {
		t.Errorf("labels = %+v, want %+v", got.Labels, ts.Labels)
	}
	if len(got.Samples) != len(ts.Samples) {
		t.Fatalf("sample count = %d, want %d", len(got.Samples), len(ts.Samples))
	}
	for i, s := range ts.Samples {
		g := got.Samples[i]
		if g.Timestamp != s.Timestamp {
			t.Errorf("sample %d timestamp = %d, want %d", i, g.Timestamp, s.Timestamp)
		}
		if math.IsNaN(s.Value) {
			if !math.IsNaN(g.Value) {
				t.Errorf("sample %d value = %v, want NaN", i, g.Value)
			}
			continue
		}
		if g.Value != s.Value {
			t.Errorf("sample %d value = %v, want %v", i, g.Value, s.Value)
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	ts := &TimeSeries{
		Labels:  NewLabelSet(Label{Name: "m", Value: "v"}),
		Samples: []Sample{{Timestamp: 1, Value: 1}},
	}
	buf := Encode(ts)

	for n := 0; n < len(buf); n++ {
		if _, err := Decode(buf[:n]); err != ErrShortBuffer {
			t.Errorf("Decode(truncated to %d bytes) error = %v, want ErrShortBuffer", n, err)
		}
	}
}

func TestSeriesIDStable(t *testing.T) {
	a := NewLabelSet(Label{Name: "host", Value: "a"}, Label{Name: "metric", Value: "cpu"})
	b := NewLabelSet(Label{Name: "metric", Value: "cpu"}, Label{Name: "host", Value: "a"})

	if SeriesID(&a) != SeriesID(&b) {
		t.Errorf("series id depends on insertion order")
	}

	c := NewLabelSet(Label{Name: "host", Value: "b"}, Label{Name: "metric", Value: "cpu"})
	if SeriesID(&a) == SeriesID(&c) {
		t.Errorf("different label sets hashed to the same series id")
	}
}

func TestMergeAppendDropsNonNewerSamples(t *testing.T) {
	dst := &TimeSeries{Samples: []Sample{{Timestamp: 1000, Value: 1}}}
	src := &TimeSeries{Samples: []Sample{
		{Timestamp: 500, Value: 0},
		{Timestamp: 1000, Value: 99},
		{Timestamp: 1500, Value: 2},
	}}

	n := MergeAppend(dst, src)
	if n != 1 {
		t.Fatalf("appended = %d, want 1", n)
	}
	if len(dst.Samples) != 2 || dst.Samples[1].Timestamp != 1500 {
		t.Fatalf("dst.Samples = %+v", dst.Samples)
	}

	// Repeating the same merge is idempotent.
	n2 := MergeAppend(dst, src)
	if n2 != 0 {
		t.Fatalf("second merge appended %d, want 0", n2)
	}
	if len(dst.Samples) != 2 {
		t.Fatalf("dst.Samples grew on repeated merge: %+v", dst.Samples)
	}
}
