// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package coldstore implements the L3 cold tier of the cache hierarchy
// as an S3-backed object store: one object per series
// ID, encoded with the checkpoint package's Avro schema.
package coldstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ClusterCockpit/tscore/internal/checkpoint"
	"github.com/ClusterCockpit/tscore/pkg/series"
)

// S3Store persists evicted series as objects in a single bucket, keyed
// by the series ID. It implements cache.ColdStore.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	// requestTimeout bounds every individual S3 call so a stalled network
	// path cannot block an eviction indefinitely.
	requestTimeout time.Duration
}

// S3Config configures the cold store.
type S3Config struct {
	Bucket         string
	Prefix         string
	Region         string
	Endpoint       string // non-empty for S3-compatible stores (e.g. MinIO)
	RequestTimeout time.Duration
}

// NewS3Store builds an S3-backed cold store from cfg, resolving AWS
// credentials the standard way (environment, shared config, IMDS).
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("coldstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, requestTimeout: timeout}, nil
}

func (s *S3Store) key(id series.ID) string {
	if s.prefix == "" {
		return strconv.FormatUint(uint64(id), 10)
	}
	return s.prefix + "/" + strconv.FormatUint(uint64(id), 10)
}

// Persist encodes ts via the Avro checkpoint schema and uploads it,
// overwriting any prior object for the same ID. Returns false (rather
// than propagating the error) so a cold-store outage degrades eviction
// into data loss for that one series instead of blocking the hierarchy.
func (s *S3Store) Persist(id series.ID, ts *series.TimeSeries) bool {
	payload, err := checkpoint.Encode(ts)
	if err != nil {
		cclog.Errorf("[coldstore]> encode series %d: %s", id, err.Error())
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
		Body:   bytes.NewReader(payload),
	})
	if err != nil {
		cclog.Errorf("[coldstore]> put series %d: %s", id, err.Error())
		return false
	}
	return true
}

// Load fetches and decodes the object for id, if present.
func (s *S3Store) Load(id series.ID) (*series.TimeSeries, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, false
		}
		cclog.Warnf("[coldstore]> get series %d: %s", id, err.Error())
		return nil, false
	}
	defer out.Body.Close()

	payload, err := io.ReadAll(out.Body)
	if err != nil {
		cclog.Errorf("[coldstore]> read series %d body: %s", id, err.Error())
		return nil, false
	}

	ts, err := checkpoint.Decode(payload)
	if err != nil {
		cclog.Errorf("[coldstore]> decode series %d: %s", id, err.Error())
		return nil, false
	}
	return ts, true
}
