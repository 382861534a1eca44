// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package predictive

import (
	"testing"

	"github.com/ClusterCockpit/tscore/internal/config"
)

func TestPredictorLearnsRepeatedSequence(t *testing.T) {
	p := New(config.Predictive{MaxPatternLength: 2, MinPatternConfidence: 0, ConfidenceThreshold: 0, MaxPrefetchSize: 3})

	for i := 0; i < 10; i++ {
		p.RecordAccess(1)
		p.RecordAccess(2)
		p.RecordAccess(3)
	}

	preds := p.Predict()
	found := false
	for _, id := range preds {
		if id == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected id 1 to follow the repeated 2->3 context, got %v", preds)
	}
}

func TestPredictorEmptyHistoryPredictsNothing(t *testing.T) {
	p := New(config.Predictive{MaxPatternLength: 3})
	if preds := p.Predict(); preds != nil {
		t.Fatalf("expected no predictions with empty history, got %v", preds)
	}
}

func TestAdaptivePrefetchGrowsKOnHighHitRate(t *testing.T) {
	p := New(config.Predictive{MaxPrefetchSize: 3, EnableAdaptivePrefetch: true})
	for i := 0; i < 20; i++ {
		p.RecordPrefetchOutcome(true)
	}
	if p.CurrentK() <= 3 {
		t.Fatalf("expected K to grow after a sustained high hit rate, got %d", p.CurrentK())
	}
}

func TestAdaptivePrefetchShrinksKOnLowHitRate(t *testing.T) {
	p := New(config.Predictive{MaxPrefetchSize: 3, EnableAdaptivePrefetch: true})
	for i := 0; i < 20; i++ {
		p.RecordPrefetchOutcome(false)
	}
	if p.CurrentK() >= 3 {
		t.Fatalf("expected K to shrink after a sustained low hit rate, got %d", p.CurrentK())
	}
}

func TestAdaptivePrefetchDisabledLeavesKUnchanged(t *testing.T) {
	p := New(config.Predictive{MaxPrefetchSize: 3, EnableAdaptivePrefetch: false})
	for i := 0; i < 20; i++ {
		p.RecordPrefetchOutcome(false)
	}
	if p.CurrentK() != 3 {
		t.Fatalf("expected K to stay fixed when adaptive prefetch is disabled, got %d", p.CurrentK())
	}
}
