// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"testing"

	"github.com/ClusterCockpit/tscore/internal/config"
	"github.com/ClusterCockpit/tscore/pkg/series"
)

func mustInit(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.WAL.Shards = 2
	cfg.L1.MaxEntries = 8
	cfg.L2.MaxEntries = 8
	cfg.Hierarchy.EnableBackgroundProcessing = false

	s, err := Init(dir, Options{Config: cfg})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestStoreWriteReadRoundTrip(t *testing.T) {
	s := mustInit(t)
	defer s.Close()

	ts := &series.TimeSeries{
		Labels:  series.NewLabelSet(series.Label{Name: "metric", Value: "cpu"}, series.Label{Name: "host", Value: "a"}),
		Samples: []series.Sample{{Timestamp: 1000, Value: 1.0}, {Timestamp: 2000, Value: 2.0}},
	}
	if err := s.Write(ts); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s.Flush()

	got, err := s.Read(ts.Labels, 0, 3000)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got == nil || len(got.Samples) != 2 {
		t.Fatalf("Read returned %+v, want 2 samples", got)
	}
}

func TestStoreReadMissReturnsNilNotError(t *testing.T) {
	s := mustInit(t)
	defer s.Close()

	got, err := s.Read(series.NewLabelSet(series.Label{Name: "metric", Value: "missing"}), 0, 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil on a clean miss, got %+v", got)
	}
}

func TestStoreWriteRejectsEmptyLabels(t *testing.T) {
	s := mustInit(t)
	defer s.Close()

	err := s.Write(&series.TimeSeries{Samples: []series.Sample{{Timestamp: 1, Value: 1}}})
	if err == nil {
		t.Fatalf("expected an error for a series with no labels")
	}
}

func TestStoreReplayRestoresHierarchyFromWAL(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.WAL.Shards = 2
	cfg.Hierarchy.EnableBackgroundProcessing = false

	s1, err := Init(dir, Options{Config: cfg})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	ts := &series.TimeSeries{
		Labels:  series.NewLabelSet(series.Label{Name: "metric", Value: "cpu"}),
		Samples: []series.Sample{{Timestamp: 1000, Value: 1.0}},
	}
	if err := s1.Write(ts); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s1.Flush()
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Init(dir, Options{Config: cfg})
	if err != nil {
		t.Fatalf("Init (reopen): %v", err)
	}
	defer s2.Close()

	n, err := s2.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if n != 1 {
		t.Fatalf("replay count = %d, want 1", n)
	}

	got, err := s2.Read(ts.Labels, 0, 2000)
	if err != nil {
		t.Fatalf("Read after replay: %v", err)
	}
	if got == nil || len(got.Samples) != 1 {
		t.Fatalf("expected restored series, got %+v", got)
	}
}

func TestStoreStatsIsNonEmpty(t *testing.T) {
	s := mustInit(t)
	defer s.Close()
	if s.Stats() == "" {
		t.Fatalf("expected a non-empty stats string")
	}
}
