// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package obsmetrics exposes the storage core's internal atomic
// counters (WAL throughput, cache hit/miss rates, filter drops,
// derived-metric evaluations) as Prometheus metrics via plain
// client_golang collectors reading directly off the live subsystems,
// rather than duplicating their counters into a second set of state.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ClusterCockpit/tscore/internal/cache"
	"github.com/ClusterCockpit/tscore/internal/derived"
	"github.com/ClusterCockpit/tscore/internal/filter"
	"github.com/ClusterCockpit/tscore/internal/wal"
)

// Sources groups every component whose counters this collector scrapes.
// Any field may be nil to support partial deployments (e.g. no
// predictive/derived subsystem wired up).
type Sources struct {
	WAL       *wal.ShardedWAL
	Hierarchy *cache.Hierarchy
	Filter    *filter.Filter
	Scheduler *derived.Scheduler
}

// Collector implements prometheus.Collector by reading Sources on every
// scrape rather than maintaining its own duplicate counters.
type Collector struct {
	sources Sources

	walWrites  *prometheus.Desc
	walBytes   *prometheus.Desc
	walErrors  *prometheus.Desc
	cacheSize  *prometheus.Desc
	cacheHits  *prometheus.Desc
	cacheMiss  *prometheus.Desc
	promotions *prometheus.Desc
	demotions  *prometheus.Desc
	filterEval *prometheus.Desc
	filterDrop *prometheus.Desc
	derivedEval *prometheus.Desc
	derivedFail *prometheus.Desc
}

// NewCollector builds a Collector over the given sources.
func NewCollector(sources Sources) *Collector {
	return &Collector{
		sources:    sources,
		walWrites:  prometheus.NewDesc("tscore_wal_writes_total", "Total series logged to the WAL.", nil, nil),
		walBytes:   prometheus.NewDesc("tscore_wal_bytes_total", "Total encoded bytes written to the WAL.", nil, nil),
		walErrors:  prometheus.NewDesc("tscore_wal_errors_total", "Total WAL write errors.", nil, nil),
		cacheSize:  prometheus.NewDesc("tscore_cache_tier_size", "Current entry count per cache tier.", []string{"tier"}, nil),
		cacheHits:  prometheus.NewDesc("tscore_cache_hits_total", "Cache hits per tier.", []string{"tier"}, nil),
		cacheMiss:  prometheus.NewDesc("tscore_cache_misses_total", "Cache misses per tier.", []string{"tier"}, nil),
		promotions: prometheus.NewDesc("tscore_cache_promotions_total", "Entries promoted between tiers.", []string{"from", "to"}, nil),
		demotions:  prometheus.NewDesc("tscore_cache_demotions_total", "Entries demoted between tiers.", []string{"from", "to"}, nil),
		filterEval: prometheus.NewDesc("tscore_filter_evaluations_total", "Total filter evaluations.", nil, nil),
		filterDrop: prometheus.NewDesc("tscore_filter_drops_total", "Total series dropped by the filter.", nil, nil),
		derivedEval: prometheus.NewDesc("tscore_derived_evaluations_total", "Total derived-metric rule evaluations.", nil, nil),
		derivedFail: prometheus.NewDesc("tscore_derived_failures_total", "Total derived-metric rule evaluation failures.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.walWrites
	ch <- c.walBytes
	ch <- c.walErrors
	ch <- c.cacheSize
	ch <- c.cacheHits
	ch <- c.cacheMiss
	ch <- c.promotions
	ch <- c.demotions
	ch <- c.filterEval
	ch <- c.filterDrop
	ch <- c.derivedEval
	ch <- c.derivedFail
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.sources.WAL != nil {
		writes, bytes, errs := c.sources.WAL.Stats()
		ch <- prometheus.MustNewConstMetric(c.walWrites, prometheus.CounterValue, float64(writes))
		ch <- prometheus.MustNewConstMetric(c.walBytes, prometheus.CounterValue, float64(bytes))
		ch <- prometheus.MustNewConstMetric(c.walErrors, prometheus.CounterValue, float64(errs))
	}

	if c.sources.Hierarchy != nil {
		stats := c.sources.Hierarchy.Stats()
		ch <- prometheus.MustNewConstMetric(c.cacheSize, prometheus.GaugeValue, float64(stats.L1Size), "l1")
		ch <- prometheus.MustNewConstMetric(c.cacheSize, prometheus.GaugeValue, float64(stats.L2Size), "l2")
		ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(stats.L1Hits), "l1")
		ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(stats.L2Hits), "l2")
		ch <- prometheus.MustNewConstMetric(c.cacheMiss, prometheus.CounterValue, float64(stats.L1Misses), "l1")
		ch <- prometheus.MustNewConstMetric(c.cacheMiss, prometheus.CounterValue, float64(stats.L2Misses), "l2")
		ch <- prometheus.MustNewConstMetric(c.promotions, prometheus.CounterValue, float64(stats.PromotionsL2ToL1), "l2", "l1")
		ch <- prometheus.MustNewConstMetric(c.promotions, prometheus.CounterValue, float64(stats.PromotionsL3ToL2), "l3", "l2")
		ch <- prometheus.MustNewConstMetric(c.demotions, prometheus.CounterValue, float64(stats.DemotionsL1ToL2), "l1", "l2")
		ch <- prometheus.MustNewConstMetric(c.demotions, prometheus.CounterValue, float64(stats.DemotionsL2ToL3), "l2", "l3")
	}

	if c.sources.Filter != nil {
		evals, drops, _ := c.sources.Filter.Stats()
		ch <- prometheus.MustNewConstMetric(c.filterEval, prometheus.CounterValue, float64(evals))
		ch <- prometheus.MustNewConstMetric(c.filterDrop, prometheus.CounterValue, float64(drops))
	}

	if c.sources.Scheduler != nil {
		evals, failures := c.sources.Scheduler.Stats()
		ch <- prometheus.MustNewConstMetric(c.derivedEval, prometheus.CounterValue, float64(evals))
		ch <- prometheus.MustNewConstMetric(c.derivedFail, prometheus.CounterValue, float64(failures))
	}
}
