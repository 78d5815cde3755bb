//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Package timer provides a deadline event source. A timer owns no
// descriptor, it takes part in the loop's poll timeout computation and is
// dispatched once its deadline expires.
package timer

import (
	"time"

	"trpc.group/trpc-go/tloop"
)

// Event reports a timer firing.
type Event struct {
	// Scheduled is the deadline that fired. Dispatch happens at or after
	// it, never before.
	Scheduled time.Time
}

var (
	_ tloop.EventSource[Event] = (*Source)(nil)
	_ tloop.DeadlineProvider   = (*Source)(nil)
)

// Source is a one-shot timer. Without a reschedule from its callback it
// removes itself after firing. Like a LoopHandle it belongs to the loop
// goroutine, it is not safe for concurrent use.
type Source struct {
	deadline time.Time
	fired    time.Time
}

// New creates a timer due at the given instant. A deadline in the past
// fires on the first dispatch.
func New(at time.Time) *Source {
	return &Source{deadline: at}
}

// NewAfter creates a timer due d from now.
func NewAfter(d time.Duration) *Source {
	return New(time.Now().Add(d))
}

// RescheduleAt arms the timer for the given instant. Called from the
// firing callback it keeps the source registered past its one-shot
// removal.
func (s *Source) RescheduleAt(at time.Time) {
	s.deadline = at
}

// RescheduleAfter arms the timer d after the deadline that just fired,
// so a periodic timer does not drift with dispatch latency. Before the
// first firing it schedules d from now.
func (s *Source) RescheduleAfter(d time.Duration) {
	base := s.fired
	if base.IsZero() {
		base = time.Now()
	}
	s.RescheduleAt(base.Add(d))
}

// NextDeadline reports the pending deadline to the loop.
func (s *Source) NextDeadline() (time.Time, bool) {
	if s.deadline.IsZero() {
		return time.Time{}, false
	}
	return s.deadline, true
}

// Register is a no-op, a timer owns no OS resources.
func (s *Source) Register(poll *tloop.Poll, token tloop.Token) error {
	return nil
}

// Reregister is a no-op.
func (s *Source) Reregister(poll *tloop.Poll, token tloop.Token) error {
	return nil
}

// Unregister is a no-op.
func (s *Source) Unregister(poll *tloop.Poll) error {
	return nil
}

// ProcessEvents delivers the firing if the deadline has expired. Unless
// the callback rescheduled, the spent timer removes itself.
func (s *Source) ProcessEvents(r tloop.Readiness, token tloop.Token, deliver func(Event) error) (tloop.PostAction, error) {
	if s.deadline.IsZero() || time.Now().Before(s.deadline) {
		// Not due. The deadline may have moved since the loop collected
		// the expiry.
		return tloop.PostContinue, nil
	}
	fired := s.deadline
	s.deadline = time.Time{}
	s.fired = fired
	if err := deliver(Event{Scheduled: fired}); err != nil {
		// Refire on the next dispatch rather than dropping the firing.
		s.deadline = fired
		return tloop.PostContinue, err
	}
	if s.deadline.IsZero() {
		return tloop.PostRemove, nil
	}
	return tloop.PostContinue, nil
}
