// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package derived

import (
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ClusterCockpit/tscore/pkg/series"
)

// maxBackoff is the ceiling of the scheduler's exponential backoff:
// 2^failures seconds, capped at 300s.
const maxBackoff = 300 * time.Second

// Sink is where a successfully evaluated derived series is written;
// the scheduler's caller wires this to the hierarchy/WAL write path.
type Sink interface {
	Write(ts *series.TimeSeries) error
}

type ruleState struct {
	rule       Rule
	nextEval   time.Time
	failures   int
	lastResult float64
	labels     series.LabelSet
}

// Scheduler periodically evaluates every registered rule against Inputs
// and writes passing results to Sink, applying the filter's keep/drop
// semantics and the rule's own interval/backoff.
//
// The tick-then-scan-due-rules shape is grounded on gocron/v2's
// recurring-job model (used here for the single driving tick rather
// than per-rule jobs, since per-rule backoff needs dynamic rescheduling
// gocron's static job definitions do not fit as directly).
type Scheduler struct {
	mu      sync.Mutex
	rules   map[string]*ruleState
	engine  *ExprEngine
	inputs  Inputs
	sink    Sink

	scheduler gocron.Scheduler
	job       gocron.Job

	evaluations uint64
	failuresTot uint64
}

// NewScheduler builds a scheduler over rules, compiling their
// expressions up front via ExprEngine.
func NewScheduler(rules []Rule, inputs Inputs, sink Sink) (*Scheduler, error) {
	rules = append([]Rule(nil), rules...)
	for i := range rules {
		if rules[i].Name == "" {
			rules[i].Name = uuid.NewString()
		}
	}

	engine, err := NewExprEngine(rules)
	if err != nil {
		return nil, err
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		rules:     make(map[string]*ruleState, len(rules)),
		engine:    engine,
		inputs:    inputs,
		sink:      sink,
		scheduler: sched,
	}
	now := time.Now()
	for _, r := range rules {
		s.rules[r.Name] = &ruleState{rule: r, nextEval: now}
	}
	return s, nil
}

// Start begins the tick loop at the given base resolution (typically
// the shortest rule interval, or some fraction of it).
func (s *Scheduler) Start(tick time.Duration) error {
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(tick),
		gocron.NewTask(s.tick),
	)
	if err != nil {
		return err
	}
	s.job = job
	s.scheduler.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

// tick runs once per base interval, evaluating every rule whose
// nextEval has passed.
func (s *Scheduler) tick() {
	now := time.Now()

	s.mu.Lock()
	due := make([]*ruleState, 0)
	for _, st := range s.rules {
		if !now.Before(st.nextEval) {
			due = append(due, st)
		}
	}
	s.mu.Unlock()

	for _, st := range due {
		s.evaluateOne(st, now)
	}
}

func (s *Scheduler) evaluateOne(st *ruleState, now time.Time) {
	labelValues := make(map[string]string)
	st.labels.Range(func(name, value string) { labelValues[name] = value })

	value, err := s.engine.Evaluate(st.rule.Name, s.inputs, labelValues)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluations++

	if err != nil {
		st.failures++
		s.failuresTot++
		backoff := backoffFor(st.failures)
		st.nextEval = now.Add(backoff)
		cclog.Warnf("[derived]> rule %q failed (%d consecutive): %s, retrying in %s", st.rule.Name, st.failures, err.Error(), backoff)
		return
	}

	st.failures = 0
	interval := st.rule.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	st.nextEval = now.Add(interval)
	st.lastResult = value

	out := &series.TimeSeries{
		Labels:  st.rule.outputLabels(st.labels),
		Samples: []series.Sample{{Timestamp: now.UnixMilli(), Value: value}},
	}
	if err := s.sink.Write(out); err != nil {
		cclog.Errorf("[derived]> rule %q: failed to write result: %s", st.rule.Name, err.Error())
	}
}

// backoffFor computes 2^failures seconds, capped at maxBackoff.
func backoffFor(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	shift := failures
	if shift > 9 { // 2^9s = 512s already exceeds the 300s cap
		shift = 9
	}
	d := time.Duration(1<<uint(shift)) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Stats reports the running evaluation/failure counters.
func (s *Scheduler) Stats() (evaluations, failures uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evaluations, s.failuresTot
}
