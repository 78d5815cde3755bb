// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

// Package channel provides an event source fed by messages sent from
// other goroutines. The sending side never blocks and the loop side
// receives every message, in send order, as an ordinary dispatch.
package channel

import (
	"github.com/eapache/queue"
	"github.com/pkg/errors"

	"trpc.group/trpc-go/tloop"
	"trpc.group/trpc-go/tloop/internal/locker"
	"trpc.group/trpc-go/tloop/metrics"
	"trpc.group/trpc-go/tloop/ping"
)

// ErrSenderClosed is returned by Send on a closed sender.
var ErrSenderClosed = errors.New("sender is closed")

// Event is one delivery from a channel source.
type Event[T any] struct {
	// Msg is the delivered message, meaningful only while Closed is
	// false.
	Msg T
	// Closed reports that every sender has been closed and every message
	// has been delivered. It is the final event of the source.
	Closed bool
}

var _ tloop.EventSource[Event[int]] = (*Source[int])(nil)

// New creates a connected sender and source pair for messages of type T.
func New[T any]() (*Sender[T], *Source[T]) {
	wake, src := ping.New()
	s := &shared[T]{queue: queue.New()}
	return &Sender[T]{shared: s, wake: wake}, &Source[T]{shared: s, wake: src}
}

// shared is the queue a source and all its senders point at. The spinlock
// guards it, critical sections are a single queue operation.
type shared[T any] struct {
	mu    locker.Locker
	queue *queue.Queue
}

// Sender feeds messages to a channel source. It is safe for use from any
// goroutine.
type Sender[T any] struct {
	shared *shared[T]
	wake   ping.Ping
}

// Send enqueues msg and wakes the loop. It never blocks, the queue is
// unbounded. Messages sent while the source is disabled or not yet
// inserted are held and delivered once it is armed.
func (s *Sender[T]) Send(msg T) error {
	if s.wake.Closed() {
		return ErrSenderClosed
	}
	s.shared.mu.Lock()
	s.shared.queue.Add(msg)
	s.shared.mu.Unlock()
	metrics.Add(metrics.ChannelSends, 1)
	s.wake.Ping()
	return nil
}

// Closed reports whether this sender has been closed.
func (s *Sender[T]) Closed() bool {
	return s.wake.Closed()
}

// Clone returns an independent sender feeding the same source. Each clone
// is closed on its own.
func (s *Sender[T]) Clone() *Sender[T] {
	return &Sender[T]{shared: s.shared, wake: s.wake.Clone()}
}

// Close releases this sender. Once the last sender is closed and the
// queue has drained, the source delivers a final Event with Closed set
// and removes itself from the loop. Close is idempotent per sender.
func (s *Sender[T]) Close() error {
	return s.wake.Close()
}

// Source is the loop side of a channel pair.
type Source[T any] struct {
	shared *shared[T]
	wake   *ping.Source
}

// Register arms the embedded wakeup source. Messages that were sent
// before the insert surface on the first dispatch.
func (c *Source[T]) Register(poll *tloop.Poll, token tloop.Token) error {
	return c.wake.Register(poll, token)
}

// Reregister refreshes the embedded wakeup source's OS registration.
func (c *Source[T]) Reregister(poll *tloop.Poll, token tloop.Token) error {
	return c.wake.Reregister(poll, token)
}

// Unregister detaches the embedded wakeup source. Queued messages are
// kept for the next Register.
func (c *Source[T]) Unregister(poll *tloop.Poll) error {
	return c.wake.Unregister(poll)
}

// ProcessEvents delivers every message enqueued since the last dispatch,
// in send order, draining the queue completely. After the last sender
// closed and the queue emptied, it delivers the final closed Event and
// removes the source.
func (c *Source[T]) ProcessEvents(r tloop.Readiness, token tloop.Token, deliver func(Event[T]) error) (tloop.PostAction, error) {
	// The embedded ping drains the wakeup and reports, through its post
	// action, whether every sender is gone.
	action, err := c.wake.ProcessEvents(r, token, func(ping.Event) error { return nil })
	if err != nil {
		return action, err
	}
	for {
		c.shared.mu.Lock()
		if c.shared.queue.Length() == 0 {
			c.shared.mu.Unlock()
			break
		}
		msg := c.shared.queue.Peek().(T)
		c.shared.mu.Unlock()
		// Deliver outside the lock, the callback is free to send again.
		// A message leaves the queue only once its callback succeeded.
		if err := deliver(Event[T]{Msg: msg}); err != nil {
			// Leftovers stay queued. Re-arm so they surface on the next
			// dispatch instead of waiting for the next send.
			c.wake.Wake()
			return tloop.PostContinue, err
		}
		c.shared.mu.Lock()
		c.shared.queue.Remove()
		c.shared.mu.Unlock()
	}
	if action == tloop.PostRemove {
		// No sender is left to refill the queue.
		if err := deliver(Event[T]{Closed: true}); err != nil {
			c.wake.Wake()
			return tloop.PostContinue, err
		}
		return tloop.PostRemove, nil
	}
	return tloop.PostContinue, nil
}
