// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config decodes and validates the storage core's configuration
// knobs (WAL, L1/L2, hierarchy, predictive cache).
package config

import (
	"bytes"
	"encoding/json"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

const (
	DefaultShards             = 16
	DefaultQueueDepthPerShard = 10_000
	DefaultSegmentSizeBytes   = 64 * 1024 * 1024

	DefaultL1PromotionThreshold  = 5
	DefaultL2PromotionThreshold  = 3
	DefaultL1DemotionThreshold   = 1
	DefaultL2DemotionThreshold   = 1
	DefaultL1DemotionTimeoutSecs = 300
	DefaultL2DemotionTimeoutSecs = 900
	DefaultBackgroundIntervalMs  = 1000

	DefaultMaxPatternLength  = 5
	DefaultMinPatternConf    = 0.3
	DefaultConfidenceThresh  = 0.4
	DefaultMaxPrefetchSize   = 3
	DefaultEnableAdaptivePfc = true
)

// WAL holds the sharded write-ahead log's configuration knobs.
type WAL struct {
	Shards            int    `json:"shards"`
	QueueDepthPerShard int   `json:"queue_depth_per_shard"`
	SegmentSizeBytes  int64  `json:"segment_size_bytes"`
	Directory         string `json:"directory"`
}

// L1 holds the first cache tier's bounds.
type L1 struct {
	MaxEntries int   `json:"max_entries"`
	MaxBytes   int64 `json:"max_bytes"`
}

// L2 holds the second cache tier's bounds.
type L2 struct {
	MaxEntries  int    `json:"max_entries"`
	MaxBytes    int64  `json:"max_bytes"`
	StoragePath string `json:"storage_path"`
}

// Hierarchy holds the cache hierarchy's promotion/demotion policy.
type Hierarchy struct {
	L1PromotionThreshold     int64 `json:"l1_promotion_threshold"`
	L2PromotionThreshold     int64 `json:"l2_promotion_threshold"`
	L1DemotionThreshold      int64 `json:"l1_demotion_threshold"`
	L2DemotionThreshold      int64 `json:"l2_demotion_threshold"`
	L1DemotionTimeoutSeconds int64 `json:"l1_demotion_timeout_seconds"`
	L2DemotionTimeoutSeconds int64 `json:"l2_demotion_timeout_seconds"`
	EnableBackgroundProcessing bool `json:"enable_background_processing"`
	BackgroundIntervalMs     int64 `json:"background_interval_ms"`
}

// Predictive holds the predictive-cache's knobs.
type Predictive struct {
	MaxPatternLength     int     `json:"max_pattern_length"`
	MinPatternConfidence float64 `json:"min_pattern_confidence"`
	ConfidenceThreshold  float64 `json:"confidence_threshold"`
	MaxPrefetchSize      int     `json:"max_prefetch_size"`
	EnableAdaptivePrefetch bool  `json:"enable_adaptive_prefetch"`
}

// Config is the top-level configuration block for the core.
type Config struct {
	WAL        WAL        `json:"wal"`
	L1         L1         `json:"l1"`
	L2         L2         `json:"l2"`
	Hierarchy  Hierarchy  `json:"hierarchy"`
	Predictive Predictive `json:"predictive"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		WAL: WAL{
			Shards:             DefaultShards,
			QueueDepthPerShard: DefaultQueueDepthPerShard,
			SegmentSizeBytes:   DefaultSegmentSizeBytes,
			Directory:          "./var/wal",
		},
		Hierarchy: Hierarchy{
			L1PromotionThreshold:       DefaultL1PromotionThreshold,
			L2PromotionThreshold:       DefaultL2PromotionThreshold,
			L1DemotionThreshold:        DefaultL1DemotionThreshold,
			L2DemotionThreshold:        DefaultL2DemotionThreshold,
			L1DemotionTimeoutSeconds:   DefaultL1DemotionTimeoutSecs,
			L2DemotionTimeoutSeconds:   DefaultL2DemotionTimeoutSecs,
			EnableBackgroundProcessing: true,
			BackgroundIntervalMs:       DefaultBackgroundIntervalMs,
		},
		Predictive: Predictive{
			MaxPatternLength:       DefaultMaxPatternLength,
			MinPatternConfidence:   DefaultMinPatternConf,
			ConfidenceThreshold:    DefaultConfidenceThresh,
			MaxPrefetchSize:        DefaultMaxPrefetchSize,
			EnableAdaptivePrefetch: DefaultEnableAdaptivePfc,
		},
	}
}

// Load validates rawConfig against configSchema and decodes it over the
// defaults, the way metricstore.Init decodes MetricStoreConfig.
func Load(rawConfig json.RawMessage) (Config, error) {
	cfg := Default()
	if rawConfig == nil {
		return cfg, nil
	}

	Validate(configSchema, rawConfig)

	dec := json.NewDecoder(bytes.NewReader(rawConfig))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		cclog.Errorf("[CONFIG]> could not decode config: %s", err.Error())
		return cfg, err
	}
	return cfg, nil
}
