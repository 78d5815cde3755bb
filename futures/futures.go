// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

// Package futures provides an event source that runs tasks on a goroutine
// pool and delivers their results to the loop. The loop only ever sees
// completed tasks, running ones never occupy a dispatch.
package futures

import (
	"context"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"

	"trpc.group/trpc-go/tloop"
	"trpc.group/trpc-go/tloop/channel"
	"trpc.group/trpc-go/tloop/internal/locker"
	"trpc.group/trpc-go/tloop/metrics"
)

// ErrSchedulerClosed is returned by Schedule on a closed scheduler.
var ErrSchedulerClosed = errors.New("scheduler is closed")

var (
	maxRoutines = 0 // meaning INT32_MAX.
	taskPool, _ = ants.NewPool(maxRoutines)
)

// Task is a unit of work run off the loop goroutine. The context is
// cancelled when the executor source is unregistered, long-running tasks
// should honor it.
type Task[T any] func(ctx context.Context) (T, error)

// Event reports one completed task.
type Event[T any] struct {
	// Value is the task's result, meaningful only while Err is nil and
	// Closed is false.
	Value T
	// Err is the error the task returned, if any.
	Err error
	// Closed reports that every scheduler has been closed and every
	// completed task has been delivered. It is the final event of the
	// source.
	Closed bool
}

// Option is an executor option.
type Option struct {
	f func(*options)
}

type options struct {
	pool *ants.Pool
}

// WithPool runs this executor's tasks on the given pool instead of the
// package default.
func WithPool(pool *ants.Pool) Option {
	return Option{func(o *options) {
		o.pool = pool
	}}
}

var _ tloop.EventSource[Event[int]] = (*Source[int])(nil)

// New creates a connected scheduler and executor source pair for tasks
// yielding T. Insert the source into a loop, then schedule tasks from any
// goroutine; each completion wakes the loop and surfaces as one Event.
func New[T any](opts ...Option) (*Scheduler[T], *Source[T]) {
	cfg := options{pool: taskPool}
	for _, opt := range opts {
		opt.f(&cfg)
	}
	tx, inner := channel.New[Event[T]]()
	ctxs := newCtxState()
	sched := &Scheduler[T]{sender: tx, pool: cfg.pool, ctxs: ctxs}
	return sched, &Source[T]{inner: inner, ctxs: ctxs}
}

// ctxState carries the context handed to tasks. Unregister swaps in a
// fresh context while cancelling the old one, so tasks scheduled after a
// disable/enable cycle run under a live context again.
type ctxState struct {
	mu     locker.Locker
	ctx    context.Context
	cancel context.CancelFunc
}

func newCtxState() *ctxState {
	c := &ctxState{}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

func (c *ctxState) current() context.Context {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	return ctx
}

func (c *ctxState) replace() {
	c.mu.Lock()
	cancel := c.cancel
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()
	cancel()
}

// Scheduler feeds tasks to an executor source. It is safe for use from
// any goroutine.
type Scheduler[T any] struct {
	sender *channel.Sender[Event[T]]
	pool   *ants.Pool
	ctxs   *ctxState
}

// Schedule submits task to the pool. When the task returns, its result is
// queued for the executor and the loop is woken. Completions are
// delivered in completion order, not in scheduling order.
func (s *Scheduler[T]) Schedule(task Task[T]) error {
	if s.sender.Closed() {
		return ErrSchedulerClosed
	}
	metrics.Add(metrics.TasksScheduled, 1)
	return s.pool.Submit(func() {
		value, err := task(s.ctxs.current())
		metrics.Add(metrics.TasksCompleted, 1)
		// A send failure means every scheduler was closed while the task
		// was running, the result has nowhere to go.
		_ = s.sender.Send(Event[T]{Value: value, Err: err})
	})
}

// Closed reports whether this scheduler has been closed.
func (s *Scheduler[T]) Closed() bool {
	return s.sender.Closed()
}

// Clone returns an independent scheduler feeding the same executor. Each
// clone is closed on its own.
func (s *Scheduler[T]) Clone() *Scheduler[T] {
	return &Scheduler[T]{sender: s.sender.Clone(), pool: s.pool, ctxs: s.ctxs}
}

// Close releases this scheduler. Once the last scheduler is closed and
// every queued completion has been delivered, the source delivers a final
// Event with Closed set and removes itself from the loop. Tasks still
// running keep running, their results are dropped. Close is idempotent
// per scheduler.
func (s *Scheduler[T]) Close() error {
	return s.sender.Close()
}

// Source is the loop side of an executor pair.
type Source[T any] struct {
	inner *channel.Source[Event[T]]
	ctxs  *ctxState
}

// Register arms the executor. Tasks completed before the insert surface
// on the first dispatch.
func (s *Source[T]) Register(poll *tloop.Poll, token tloop.Token) error {
	return s.inner.Register(poll, token)
}

// Reregister refreshes the executor's OS registration.
func (s *Source[T]) Reregister(poll *tloop.Poll, token tloop.Token) error {
	return s.inner.Reregister(poll, token)
}

// Unregister detaches the executor from the poller and cancels the
// context held by tasks scheduled so far; tasks scheduled afterwards get
// a fresh context, so a disabled executor is fully usable once enabled
// again. Completions queued so far are kept for the next Register.
func (s *Source[T]) Unregister(poll *tloop.Poll) error {
	s.ctxs.replace()
	return s.inner.Unregister(poll)
}

// ProcessEvents delivers every task completed since the last dispatch, in
// completion order, draining the queue completely. After the last
// scheduler closed and the queue emptied, it delivers the final closed
// Event and removes the source.
func (s *Source[T]) ProcessEvents(r tloop.Readiness, token tloop.Token, deliver func(Event[T]) error) (tloop.PostAction, error) {
	return s.inner.ProcessEvents(r, token, func(e channel.Event[Event[T]]) error {
		if e.Closed {
			return deliver(Event[T]{Closed: true})
		}
		return deliver(e.Msg)
	})
}
