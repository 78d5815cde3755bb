//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package tloop

import (
	"time"
)

const (
	// defaultBatchSize is the number of readiness events one poll wait
	// may collect.
	defaultBatchSize = 64
)

// Option is an event loop option.
type Option struct {
	f func(*options)
}

type options struct {
	maxRegistrations int
	batchSize        int
	pollTimeout      time.Duration
}

func (o *options) setDefault() {
	o.batchSize = defaultBatchSize
	o.pollTimeout = -1
}

// WithMaxRegistrations caps the number of simultaneously live
// registrations. Insert returns ErrRegistryFull once the cap is reached.
// Zero or negative means unlimited, which is the default. The loop's
// internal wake registration does not count against the cap.
func WithMaxRegistrations(n int) Option {
	return Option{func(op *options) {
		op.maxRegistrations = n
	}}
}

// WithBatchSize sets how many readiness events a single poll wait may
// collect. Default value is 64.
func WithBatchSize(n int) Option {
	return Option{func(op *options) {
		if n > 0 {
			op.batchSize = n
		}
	}}
}

// WithPollTimeout bounds how long one Run iteration may block waiting for
// readiness. The loop still wakes earlier for source deadlines and signal
// wakeups. Negative blocks indefinitely, which is the default.
func WithPollTimeout(timeout time.Duration) Option {
	return Option{func(op *options) {
		op.pollTimeout = timeout
	}}
}
