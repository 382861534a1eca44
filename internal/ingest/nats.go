// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ingest is the NATS-subscribed front door of the storage core:
// it decodes influx line-protocol messages off a subject and hands each
// resulting (labels, sample) pair to a Writer, typically the top-level
// Store.
//
// The connection lifecycle (reconnect/error handlers, singleton-free
// constructor taking an explicit config) and the per-message decode
// loop shape follow the same pattern used elsewhere in this codebase
// for NATS-subscribed ingestion, adapted here to build a
// series.TimeSeries with a single sample per field instead of a
// metric-specific message type.
package ingest

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	influx "github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/nats-io/nats.go"

	"github.com/ClusterCockpit/tscore/pkg/series"
)

// Writer is the ingestion sink; Store implements it.
type Writer interface {
	Write(ts *series.TimeSeries) error
}

// Config configures the NATS subscriber.
type Config struct {
	Address       string
	Username      string
	Password      string
	CredsFilePath string
	Subject       string
	QueueGroup    string // empty disables queue-group load balancing
}

// Subscriber connects to NATS and feeds decoded series to a Writer.
type Subscriber struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	writer Writer

	mu       sync.Mutex
	messages uint64
	decoded  uint64
	errors   uint64
}

// Connect dials NATS per cfg and subscribes to cfg.Subject, decoding
// every message as influx line protocol and writing the result through
// writer. The subscription is active as soon as Connect returns.
func Connect(cfg Config, writer Writer) (*Subscriber, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("ingest: NATS address is required")
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				cclog.Warnf("[ingest]> NATS disconnected: %s", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			cclog.Infof("[ingest]> NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			cclog.Errorf("[ingest]> NATS error: %s", err.Error())
		}),
	)

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("ingest: NATS connect failed: %w", err)
	}

	s := &Subscriber{conn: nc, writer: writer}

	handler := func(msg *nats.Msg) { s.handle(msg.Data) }

	var sub *nats.Subscription
	if cfg.QueueGroup != "" {
		sub, err = nc.QueueSubscribe(cfg.Subject, cfg.QueueGroup, handler)
	} else {
		sub, err = nc.Subscribe(cfg.Subject, handler)
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ingest: subscribe to %q failed: %w", cfg.Subject, err)
	}
	s.sub = sub

	cclog.Infof("[ingest]> subscribed to %q on %s", cfg.Subject, cfg.Address)
	return s, nil
}

// handle decodes one line-protocol-framed NATS message, which may
// contain multiple lines, each becoming its own series write.
func (s *Subscriber) handle(data []byte) {
	s.mu.Lock()
	s.messages++
	s.mu.Unlock()

	dec := influx.NewDecoder(bytes.NewReader(data))
	for dec.Next() {
		ts, err := decodeLine(dec)
		if err != nil {
			s.mu.Lock()
			s.errors++
			s.mu.Unlock()
			cclog.Warnf("[ingest]> failed to decode line protocol message: %s", err.Error())
			continue
		}

		if err := s.writer.Write(ts); err != nil {
			s.mu.Lock()
			s.errors++
			s.mu.Unlock()
			cclog.Errorf("[ingest]> write failed: %s", err.Error())
			continue
		}

		s.mu.Lock()
		s.decoded++
		s.mu.Unlock()
	}
}

// decodeLine reads one measurement from d and converts it to a single
// time series carrying one sample per numeric field, one series per
// field since each field is a distinct metric name in this model.
func decodeLine(d *influx.Decoder) (*series.TimeSeries, error) {
	measurement, err := d.Measurement()
	if err != nil {
		return nil, err
	}

	tags := []series.Label{{Name: "__name__", Value: string(measurement)}}
	for {
		key, value, err := d.NextTag()
		if err != nil {
			return nil, err
		}
		if key == nil {
			break
		}
		tags = append(tags, series.Label{Name: string(key), Value: string(value)})
	}

	var field string
	var val float64
	for {
		key, value, err := d.NextField()
		if err != nil {
			return nil, err
		}
		if key == nil {
			break
		}
		field = string(key)
		switch value.Kind() {
		case influx.Float:
			val, _ = value.FloatV()
		case influx.Int:
			v, _ := value.IntV()
			val = float64(v)
		case influx.UInt:
			v, _ := value.UIntV()
			val = float64(v)
		default:
			continue
		}
	}

	t, err := d.Time(influx.Nanosecond, time.Time{})
	if err != nil {
		return nil, err
	}

	labels := append(append([]series.Label(nil), tags...), series.Label{Name: "field", Value: field})
	return &series.TimeSeries{
		Labels:  series.NewLabelSet(labels...),
		Samples: []series.Sample{{Timestamp: t.UnixMilli(), Value: val}},
	}, nil
}

// Stats reports the subscriber's running counters.
func (s *Subscriber) Stats() (messages, decoded, errs uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages, s.decoded, s.errors
}

// Close unsubscribes and drains the NATS connection.
func (s *Subscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			return err
		}
	}
	s.conn.Close()
	return nil
}
