// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

const configSchema = `{
    "type": "object",
    "description": "Configuration for the WAL + cache hierarchy core.",
    "properties": {
        "wal": {
            "type": "object",
            "properties": {
                "shards": {"type": "integer"},
                "queue_depth_per_shard": {"type": "integer"},
                "segment_size_bytes": {"type": "integer"},
                "directory": {"type": "string"}
            }
        },
        "l1": {
            "type": "object",
            "properties": {
                "max_entries": {"type": "integer"},
                "max_bytes": {"type": "integer"}
            }
        },
        "l2": {
            "type": "object",
            "properties": {
                "max_entries": {"type": "integer"},
                "max_bytes": {"type": "integer"},
                "storage_path": {"type": "string"}
            }
        },
        "hierarchy": {
            "type": "object",
            "properties": {
                "l1_promotion_threshold": {"type": "integer"},
                "l2_promotion_threshold": {"type": "integer"},
                "l1_demotion_threshold": {"type": "integer"},
                "l2_demotion_threshold": {"type": "integer"},
                "l1_demotion_timeout_seconds": {"type": "integer"},
                "l2_demotion_timeout_seconds": {"type": "integer"},
                "enable_background_processing": {"type": "boolean"},
                "background_interval_ms": {"type": "integer"}
            }
        },
        "predictive": {
            "type": "object",
            "properties": {
                "max_pattern_length": {"type": "integer"},
                "min_pattern_confidence": {"type": "number"},
                "confidence_threshold": {"type": "number"},
                "max_prefetch_size": {"type": "integer"},
                "enable_adaptive_prefetch": {"type": "boolean"}
            }
        }
    }
}`
