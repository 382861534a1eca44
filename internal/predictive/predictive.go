// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package predictive implements an n-gram access-pattern learner and
// adaptive prefetcher. It observes the sequence of series IDs read
// through the cache hierarchy, learns which ID tends to follow which,
// and proposes a bounded set of IDs to warm ahead of demand.
//
// The confidence-decay model and the sliding access window follow the
// same "track recent history, decay by elapsed time" shape used for
// buffer retention elsewhere in this codebase, generalized from
// fixed-frequency sample slots to an arbitrary sequence of IDs.
package predictive

import (
	"math"
	"sync"
	"time"

	"github.com/ClusterCockpit/tscore/internal/config"
	"github.com/ClusterCockpit/tscore/pkg/series"
)

// decayHours is the exp() time constant of the confidence formula:
// min(1, occurrences/5) * exp(-hours_since_last_seen/24).
const decayHours = 24.0

// occurrencesForFullConfidence caps the occurrence term of the
// confidence formula at 1.0 once a pattern has been seen this many
// times.
const occurrencesForFullConfidence = 5.0

// historyWindowFactor bounds the rolling access history to a multiple of
// the longest n-gram context length, not the context length itself, so
// that a repeating pattern has room to recur several times before its
// oldest occurrence scrolls out of history.
const historyWindowFactor = 10

type patternStats struct {
	occurrences int
	lastSeen    time.Time
}

// confidence returns the decayed confidence score for this pattern as
// of now.
func (p patternStats) confidence(now time.Time) float64 {
	occTerm := math.Min(1, float64(p.occurrences)/occurrencesForFullConfidence)
	hours := now.Sub(p.lastSeen).Hours()
	return occTerm * math.Exp(-hours/decayHours)
}

// Predictor learns n-gram successor patterns from an access sequence and
// proposes IDs to prefetch. All state is guarded by mu; access sequences
// from multiple goroutines are serialized through RecordAccess.
type Predictor struct {
	mu sync.Mutex

	cfg config.Predictive

	history []series.ID // most recent accesses, newest last, bounded to cfg.MaxPatternLength * historyWindowFactor
	// patterns maps a context (the last N IDs, encoded as a string key)
	// to the stats for each observed successor.
	patterns map[string]map[series.ID]*patternStats

	prefetchHits   uint64
	prefetchMisses uint64
	currentK       int
}

// New builds a predictor from the given configuration.
func New(cfg config.Predictive) *Predictor {
	k := cfg.MaxPrefetchSize
	if k <= 0 {
		k = config.DefaultMaxPrefetchSize
	}
	return &Predictor{
		cfg:      cfg,
		patterns: make(map[string]map[series.ID]*patternStats),
		currentK: k,
	}
}

// RecordAccess folds id into the recent-access history and, for every
// context length from 1 up to cfg.MaxPatternLength, strengthens the
// pattern "this context is followed by id".
func (p *Predictor) RecordAccess(id series.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	maxLen := p.cfg.MaxPatternLength
	if maxLen <= 0 {
		maxLen = config.DefaultMaxPatternLength
	}

	for n := 1; n <= maxLen && n <= len(p.history); n++ {
		ctx := contextKey(p.history[len(p.history)-n:])
		successors, ok := p.patterns[ctx]
		if !ok {
			successors = make(map[series.ID]*patternStats)
			p.patterns[ctx] = successors
		}
		stat, ok := successors[id]
		if !ok {
			stat = &patternStats{}
			successors[id] = stat
		}
		stat.occurrences++
		stat.lastSeen = now
	}

	p.history = append(p.history, id)
	if histCap := maxLen * historyWindowFactor; len(p.history) > histCap {
		p.history = p.history[len(p.history)-histCap:]
	}
}

// Predict returns up to the current adaptive K series IDs most likely
// to be accessed next, given the current history, ranked by decayed
// confidence and filtered below cfg.ConfidenceThreshold.
func (p *Predictor) Predict() []series.ID {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.history) == 0 {
		return nil
	}
	now := time.Now()

	type scored struct {
		id         series.ID
		confidence float64
	}
	var candidates []scored

	maxLen := p.cfg.MaxPatternLength
	if maxLen <= 0 {
		maxLen = config.DefaultMaxPatternLength
	}
	minConf := p.cfg.MinPatternConfidence
	if minConf <= 0 {
		minConf = config.DefaultMinPatternConf
	}
	threshold := p.cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = config.DefaultConfidenceThresh
	}

	// Longer contexts are more specific; try the longest context first
	// and only fall back to shorter ones if it yields no successor above
	// the confidence thresholds.
	for n := maxLen; n >= 1; n-- {
		if n > len(p.history) {
			continue
		}
		ctx := contextKey(p.history[len(p.history)-n:])
		successors, ok := p.patterns[ctx]
		if !ok {
			continue
		}
		for id, stat := range successors {
			c := stat.confidence(now)
			if c < minConf || c < threshold {
				continue
			}
			candidates = append(candidates, scored{id, c})
		}
		if len(candidates) > 0 {
			break
		}
	}

	// Simple insertion sort: candidate lists are bounded by the fan-out
	// of a single context and are small in practice.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].confidence > candidates[j-1].confidence; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	k := p.currentK
	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]series.ID, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, candidates[i].id)
	}
	return out
}

// RecordPrefetchOutcome feeds back whether a previously prefetched ID
// was actually used before eviction, driving the adaptive-K adjustment:
// K grows when prefetches are paying off and shrinks when they are
// mostly wasted.
func (p *Predictor) RecordPrefetchOutcome(wasUsed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.cfg.EnableAdaptivePrefetch {
		return
	}
	if wasUsed {
		p.prefetchHits++
	} else {
		p.prefetchMisses++
	}

	total := p.prefetchHits + p.prefetchMisses
	if total < 20 {
		// Not enough signal yet to adjust K without thrashing.
		return
	}
	rate := float64(p.prefetchHits) / float64(total)
	switch {
	case rate > 0.7 && p.currentK < 10:
		p.currentK++
	case rate < 0.3 && p.currentK > 1:
		p.currentK--
	}
	p.prefetchHits, p.prefetchMisses = 0, 0
}

// CurrentK reports the adaptively-tuned prefetch fan-out.
func (p *Predictor) CurrentK() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentK
}

func contextKey(ids []series.ID) string {
	// A cheap, allocation-light encoding into a fixed-size buffer: IDs are 64-bit and
	// contexts are short (bounded by MaxPatternLength), so a simple
	// separator-joined decimal string is clear and fast enough.
	var b [160]byte
	n := 0
	for i, id := range ids {
		if i > 0 {
			b[n] = '|'
			n++
		}
		n += writeUint(b[n:], uint64(id))
	}
	return string(b[:n])
}

func writeUint(b []byte, v uint64) int {
	if v == 0 {
		b[0] = '0'
		return 1
	}
	var tmp [20]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return copy(b, tmp[i:])
}
