// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of tscore.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tserrors defines the sentinel errors shared across the WAL,
// cache hierarchy and storage facade: invalid argument, not found,
// resource exhausted, I/O failure and corruption are each surfaced as a
// distinct, wrappable sentinel rather than as ad-hoc strings.
package tserrors

import "errors"

var (
	// ErrInvalidArgument is returned when the caller violated a
	// precondition (nil series, empty label name) with no side effect.
	ErrInvalidArgument = errors.New("tscore: invalid argument")

	// ErrNotFound marks a lookup that missed in every cache level and
	// the cold store. It is not an internal error; Store.Read reports
	// such a miss as (nil, nil) rather than returning this sentinel.
	ErrNotFound = errors.New("tscore: not found")

	// ErrQueueFull marks a shard queue at capacity. No WAL enqueue path
	// returns it: Shard.Log blocks while its queue is full.
	ErrQueueFull = errors.New("tscore: queue full")

	// ErrIO wraps a failed segment write, fsync, or directory operation.
	ErrIO = errors.New("tscore: i/o failure")

	// ErrCorrupt marks a WAL record with an implausible length or a
	// failed inner decode. During replay an implausible length ends the
	// segment, while a record that fails to decode is skipped on its own.
	ErrCorrupt = errors.New("tscore: corrupt record")

	// ErrClosed marks an operation attempted after Close. Shard.Log on a
	// closing shard returns its own plain error, not this sentinel.
	ErrClosed = errors.New("tscore: closed")
)
