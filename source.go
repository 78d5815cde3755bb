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

package tloop

import (
	"time"
)

// Callback handles the events a source delivers. The data argument is the
// shared state the embedder passed to Run or Dispatch; the loop hands it
// through for the duration of the call and never retains it.
type Callback[E any] func(event E, data any) error

// EventSource is the contract every pluggable event source implements. A
// source owns whatever OS resources it wraps and may map several
// descriptors to its one token.
//
// Resources are created in Register and released in Unregister, never one
// without the other, so disabling a registration through the handle fully
// detaches the source from the OS while its token stays valid.
type EventSource[E any] interface {
	// Register adds the source to the poller under the given token.
	Register(poll *Poll, token Token) error
	// Reregister refreshes the existing OS registration, picking up any
	// interest or mode changes.
	Reregister(poll *Poll, token Token) error
	// Unregister detaches the source from the poller and releases the
	// resources Register created.
	Unregister(poll *Poll) error
	// ProcessEvents turns observed readiness into zero or more events,
	// invoking deliver once per event in order. It must drain everything
	// pending before returning. The loop does not call it again for
	// leftovers within the same readiness unless the registration is
	// edge-triggered and the condition fires anew.
	ProcessEvents(r Readiness, token Token, deliver func(E) error) (PostAction, error)
}

// DeadlineProvider is the capability a source implements to take part in
// the loop's poll timeout computation. When the deadline expires before
// any descriptor turns ready, the loop dispatches the source with a zero
// Readiness.
type DeadlineProvider interface {
	// NextDeadline returns the next instant the source needs to run at,
	// or ok false when it currently has none.
	NextDeadline() (deadline time.Time, ok bool)
}

// PostAction is the instruction a source returns from ProcessEvents
// telling the loop how to continue watching its registration.
type PostAction uint8

const (
	// PostContinue keeps the registration armed unchanged.
	PostContinue PostAction = iota
	// PostReregister keeps the registration armed and refreshes its OS
	// registration, e.g. to drop write interest after flushing a buffer
	// or to rearm a oneshot descriptor.
	PostReregister
	// PostDisable stops delivery until the registration is enabled again
	// through the handle. The token stays valid.
	PostDisable
	// PostRemove unregisters the source and frees its table slot. The
	// token turns stale.
	PostRemove
)

// String implements fmt.Stringer.
func (a PostAction) String() string {
	switch a {
	case PostContinue:
		return "continue"
	case PostReregister:
		return "reregister"
	case PostDisable:
		return "disable"
	case PostRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Dispatcher binds one event source to one callback and erases the
// source's concrete event type, so heterogeneous sources can share the
// loop's registration table. The loop owns the dispatcher exclusively and
// drops it together with the table entry.
type Dispatcher interface {
	// Register adds the bound source to the poller under token.
	Register(poll *Poll, token Token) error
	// Reregister refreshes the bound source's OS registration.
	Reregister(poll *Poll, token Token) error
	// Unregister detaches the bound source from the poller.
	Unregister(poll *Poll) error
	// Dispatch lets the bound source process readiness, feeding every
	// produced event to the bound callback along with data.
	Dispatch(r Readiness, token Token, data any) (PostAction, error)
}

// NewDispatcher binds source to callback. When the source provides
// deadlines, so does the returned dispatcher, and the loop folds it into
// the timeout computation.
func NewDispatcher[E any](source EventSource[E], callback Callback[E]) Dispatcher {
	d := &dispatcher[E]{source: source, callback: callback}
	if provider, ok := source.(DeadlineProvider); ok {
		return &deadlineDispatcher[E]{dispatcher: d, provider: provider}
	}
	return d
}

type dispatcher[E any] struct {
	source   EventSource[E]
	callback Callback[E]
}

func (d *dispatcher[E]) Register(poll *Poll, token Token) error {
	return d.source.Register(poll, token)
}

func (d *dispatcher[E]) Reregister(poll *Poll, token Token) error {
	return d.source.Reregister(poll, token)
}

func (d *dispatcher[E]) Unregister(poll *Poll) error {
	return d.source.Unregister(poll)
}

func (d *dispatcher[E]) Dispatch(r Readiness, token Token, data any) (PostAction, error) {
	return d.source.ProcessEvents(r, token, func(event E) error {
		return d.callback(event, data)
	})
}

type deadlineDispatcher[E any] struct {
	*dispatcher[E]
	provider DeadlineProvider
}

func (d *deadlineDispatcher[E]) NextDeadline() (time.Time, bool) {
	return d.provider.NextDeadline()
}
