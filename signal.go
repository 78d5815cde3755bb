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
	"go.uber.org/atomic"

	"trpc.group/trpc-go/tloop/internal/wakefd"
)

// signalShared is the state all LoopSignal copies of one loop point at.
type signalShared struct {
	fd      *wakefd.FD
	stopped atomic.Bool
}

// LoopSignal wakes or stops a possibly blocked loop. Unlike LoopHandle it
// is safe for use from any goroutine, copies share the same wake state and
// stay usable independently of whether the loop is currently running.
type LoopSignal struct {
	shared *signalShared
}

// Wakeup interrupts the loop's current or next poll wait even when no
// genuine readiness is pending. Wakeups issued before the loop drains
// them coalesce into one. Returns ErrLoopClosed after the loop has been
// closed.
func (s LoopSignal) Wakeup() error {
	if err := s.shared.fd.Wake(); err != nil {
		if err == wakefd.ErrClosed {
			return ErrLoopClosed
		}
		return err
	}
	return nil
}

// Stop makes Run return after it finishes its current iteration, waking
// the loop if it is blocked. Dispatch of the readiness batch already
// collected still completes. A stop issued while the loop is not
// running is not lost, the next Run returns after its first iteration.
func (s LoopSignal) Stop() error {
	s.shared.stopped.Store(true)
	return s.Wakeup()
}
