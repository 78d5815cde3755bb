// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

// Package wakefd provides a file descriptor that interrupts a blocked poll
// wait from another thread.
package wakefd

import (
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"trpc.group/trpc-go/tloop/internal/safejob"
	"trpc.group/trpc-go/tloop/metrics"
)

// ErrClosed is returned by Wake after the descriptor has been closed.
var ErrClosed = errors.New("wakefd is closed")

// FD wraps an eventfd on linux and a non-blocking pipe elsewhere. Wake may
// be called from any goroutine. Concurrent wakeups between two drains
// coalesce into a single write, so the kernel buffer never fills up no
// matter how often Wake is called.
type FD struct {
	rfd     int
	wfd     int
	pending atomic.Bool
	job     safejob.ConcurrentJob
	once    safejob.OnceJob
}

// New creates a wakeup descriptor.
func New() (*FD, error) {
	fd := &FD{}
	if err := fd.create(); err != nil {
		return nil, err
	}
	return fd, nil
}

// ReadFD returns the descriptor to register for read readiness.
func (fd *FD) ReadFD() int {
	return fd.rfd
}

// Wake makes ReadFD readable so that a blocked poll wait returns. If a
// previous wakeup has not been drained yet, the call only sets the pending
// flag and skips the write.
func (fd *FD) Wake() error {
	if !fd.job.Begin() {
		return ErrClosed
	}
	defer fd.job.End()
	if !fd.pending.CAS(false, true) {
		metrics.Add(metrics.WakeupsCoalesced, 1)
		return nil
	}
	metrics.Add(metrics.Wakeups, 1)
	return fd.write()
}

// Drain consumes the pending wakeup and empties the descriptor. It reports
// whether a wakeup had fired since the previous drain. The pending flag is
// reset before the read, so callers must inspect their own payload queues
// only after Drain returns, otherwise a send racing with the drain could be
// left sitting in the queue without a readable descriptor to flag it.
func (fd *FD) Drain() bool {
	if !fd.job.Begin() {
		return false
	}
	defer fd.job.End()
	fired := fd.pending.CAS(true, false)
	fd.read()
	if fd.pending.Load() {
		// A wakeup raced the drain and its write may have been consumed
		// by the read above. Restore readability, otherwise every later
		// wakeup would coalesce against a descriptor that never becomes
		// readable again.
		fd.write()
	}
	return fired
}

// Close releases the descriptor. Only the first call closes, later and
// concurrent calls are no-ops. Wake calls that lost the race against
// Close return ErrClosed.
func (fd *FD) Close() error {
	if !fd.once.Begin() {
		return nil
	}
	fd.job.Close()
	return fd.close()
}
