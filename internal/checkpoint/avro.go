// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package checkpoint encodes a single time series into an Avro binary
// record: one self-contained object per series, as opposed to an
// appended-OCF-file-per-resolution layout, since that is what an
// object-store-backed cold tier needs — one object in, one object out,
// no append-in-place.
package checkpoint

import (
	"fmt"
	"sync"

	"github.com/linkedin/goavro/v2"

	"github.com/ClusterCockpit/tscore/pkg/series"
)

// schema lays out one field per data column, collapsed to the four
// columns a checkpointed series needs: its label names and values and
// its sample timestamps and values.
const schema = `{
  "type": "record",
  "name": "TimeSeriesCheckpoint",
  "fields": [
    {"name": "label_names", "type": {"type": "array", "items": "string"}},
    {"name": "label_values", "type": {"type": "array", "items": "string"}},
    {"name": "timestamps", "type": {"type": "array", "items": "long"}},
    {"name": "values", "type": {"type": "array", "items": "double"}}
  ]
}`

var (
	codecOnce sync.Once
	codec     *goavro.Codec
	codecErr  error
)

func getCodec() (*goavro.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = goavro.NewCodec(schema)
	})
	return codec, codecErr
}

// Encode serializes ts into a single Avro binary record.
func Encode(ts *series.TimeSeries) ([]byte, error) {
	c, err := getCodec()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: build codec: %w", err)
	}

	names := make([]any, 0, ts.Labels.Len())
	values := make([]any, 0, ts.Labels.Len())
	ts.Labels.Range(func(name, value string) {
		names = append(names, name)
		values = append(values, value)
	})

	timestamps := make([]any, len(ts.Samples))
	floatValues := make([]any, len(ts.Samples))
	for i, s := range ts.Samples {
		timestamps[i] = s.Timestamp
		floatValues[i] = s.Value
	}

	native := map[string]any{
		"label_names":  names,
		"label_values": values,
		"timestamps":   timestamps,
		"values":       floatValues,
	}

	buf, err := c.BinaryFromNative(nil, native)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: encode: %w", err)
	}
	return buf, nil
}

// Decode reconstructs a time series from an Avro binary record produced
// by Encode.
func Decode(buf []byte) (*series.TimeSeries, error) {
	c, err := getCodec()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: build codec: %w", err)
	}

	native, _, err := c.NativeFromBinary(buf)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: decode: %w", err)
	}
	rec, ok := native.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("checkpoint: decoded value is not a record")
	}

	names := rec["label_names"].([]any)
	values := rec["label_values"].([]any)
	labels := make([]series.Label, len(names))
	for i := range names {
		labels[i] = series.Label{Name: names[i].(string), Value: values[i].(string)}
	}

	timestamps := rec["timestamps"].([]any)
	floatValues := rec["values"].([]any)
	samples := make([]series.Sample, len(timestamps))
	for i := range timestamps {
		samples[i] = series.Sample{Timestamp: timestamps[i].(int64), Value: floatValues[i].(float64)}
	}

	return &series.TimeSeries{
		Labels:  series.NewLabelSet(labels...),
		Samples: samples,
	}, nil
}
