// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package filter

import (
	"testing"
	"time"

	"github.com/ClusterCockpit/tscore/pkg/series"
)

func withLabel(name, value string) *series.TimeSeries {
	return &series.TimeSeries{
		Labels:  series.NewLabelSet(series.Label{Name: name, Value: value}),
		Samples: []series.Sample{{Timestamp: time.Now().UnixMilli(), Value: 1}},
	}
}

func TestKeepRuleOverridesDropRule(t *testing.T) {
	f := New(RuleSet{Rules: []Rule{
		{LabelName: "env", LabelValue: "debug", Keep: false},
		{LabelName: "host", LabelValue: "important", Keep: true},
	}})

	ts := &series.TimeSeries{
		Labels: series.NewLabelSet(
			series.Label{Name: "env", Value: "debug"},
			series.Label{Name: "host", Value: "important"},
		),
		Samples: []series.Sample{{Timestamp: time.Now().UnixMilli(), Value: 1}},
	}

	if f.ShouldDrop(ts, time.Now()) {
		t.Fatalf("keep rule should override the matching drop rule")
	}
}

func TestDropRuleDropsMatchingSeries(t *testing.T) {
	f := New(RuleSet{Rules: []Rule{{LabelName: "env", LabelValue: "debug", Keep: false}}})
	if !f.ShouldDrop(withLabel("env", "debug"), time.Now()) {
		t.Fatalf("expected matching drop rule to drop the series")
	}
	if f.ShouldDrop(withLabel("env", "prod"), time.Now()) {
		t.Fatalf("non-matching series should be kept")
	}
}

func TestStaleSeriesIsDropped(t *testing.T) {
	f := New(RuleSet{StalenessThreshold: time.Minute})
	ts := &series.TimeSeries{
		Labels:  series.NewLabelSet(series.Label{Name: "m", Value: "x"}),
		Samples: []series.Sample{{Timestamp: time.Now().Add(-time.Hour).UnixMilli(), Value: 1}},
	}
	if !f.ShouldDrop(ts, time.Now()) {
		t.Fatalf("expected a series older than the staleness threshold to be dropped")
	}
}

func TestReplaceSwapsRuleSetAtomically(t *testing.T) {
	f := New(RuleSet{Rules: []Rule{{LabelName: "env", LabelValue: "debug", Keep: false}}})
	f.Replace(RuleSet{})
	if f.ShouldDrop(withLabel("env", "debug"), time.Now()) {
		t.Fatalf("expected the replaced (empty) rule set to keep everything")
	}
}

func TestStatsTracksEvaluationsAndDrops(t *testing.T) {
	f := New(RuleSet{Rules: []Rule{{LabelName: "env", LabelValue: "debug", Keep: false}}})
	f.ShouldDrop(withLabel("env", "debug"), time.Now())
	f.ShouldDrop(withLabel("env", "prod"), time.Now())

	evals, drops, _ := f.Stats()
	if evals != 2 || drops != 1 {
		t.Fatalf("evals=%d drops=%d, want 2/1", evals, drops)
	}
}
