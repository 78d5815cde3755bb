// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

// Package ping provides a minimal cross-goroutine wakeup event source. It
// carries no payload beyond the wakeup itself and has no stop semantics,
// richer producers build on top of it.
package ping

import (
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"trpc.group/trpc-go/tloop"
	"trpc.group/trpc-go/tloop/internal/locker"
	"trpc.group/trpc-go/tloop/internal/wakefd"
)

var errNotRegistered = errors.New("ping source is not registered")

// Event is delivered once per dispatch in which at least one ping arrived.
type Event struct{}

var _ tloop.EventSource[Event] = (*Source)(nil)

// New creates a connected ping pair. Insert the source into a loop, then
// call Ping from any goroutine to wake it.
func New() (Ping, *Source) {
	s := &shared{}
	s.senders.Store(1)
	return Ping{shared: s, closed: atomic.NewBool(false)}, &Source{shared: s}
}

// shared is the state a Source and all its Ping handles point at. The fd
// exists only while the source is registered, the pinged flag carries
// wakeups across the gaps.
type shared struct {
	mu      locker.Locker
	fd      *wakefd.FD
	pinged  bool
	senders atomic.Int32
}

// Ping wakes the source it was created with. It is safe for use from any
// goroutine.
type Ping struct {
	shared *shared
	closed *atomic.Bool
}

// Ping wakes the loop the source is registered with. All pings arriving
// before the next dispatch coalesce into a single Event. Pinging while
// the source is disabled or not yet inserted is remembered and delivered
// once it is armed.
func (p Ping) Ping() {
	if p.closed.Load() {
		return
	}
	s := p.shared
	s.mu.Lock()
	s.pinged = true
	fd := s.fd
	s.mu.Unlock()
	if fd != nil {
		// A wake error means the source was unregistered concurrently.
		// The pinged flag keeps the wakeup for the next registration.
		_ = fd.Wake()
	}
}

// Closed reports whether this handle has been closed.
func (p Ping) Closed() bool {
	return p.closed.Load()
}

// Clone returns an independent handle waking the same source. Each clone
// is closed on its own. Cloning a closed handle yields a closed handle.
func (p Ping) Clone() Ping {
	if p.closed.Load() {
		return Ping{shared: p.shared, closed: atomic.NewBool(true)}
	}
	p.shared.senders.Inc()
	return Ping{shared: p.shared, closed: atomic.NewBool(false)}
}

// Close releases this handle. Closing the last handle wakes the source
// one final time so it can remove itself from the loop. Close is
// idempotent per handle.
func (p Ping) Close() error {
	if !p.closed.CAS(false, true) {
		return nil
	}
	s := p.shared
	if s.senders.Dec() > 0 {
		return nil
	}
	s.mu.Lock()
	fd := s.fd
	s.mu.Unlock()
	if fd != nil {
		_ = fd.Wake()
	}
	return nil
}

// Source is the loop side of a ping pair.
type Source struct {
	shared *shared
}

// Wake re-arms the source's readiness as if a ping had arrived. Sources
// embedding a ping use it to flag work left over after an aborted
// dispatch.
func (s *Source) Wake() {
	s.shared.mu.Lock()
	s.shared.pinged = true
	fd := s.shared.fd
	s.shared.mu.Unlock()
	if fd != nil {
		_ = fd.Wake()
	}
}

// Register creates the wakeup descriptor and adds it to the poller. Pings
// that arrived while the source was not registered surface right away.
func (s *Source) Register(poll *tloop.Poll, token tloop.Token) error {
	fd, err := wakefd.New()
	if err != nil {
		return err
	}
	if err := poll.Register(fd.ReadFD(), token, tloop.Readable, tloop.Level); err != nil {
		fd.Close()
		return err
	}
	s.shared.mu.Lock()
	s.shared.fd = fd
	pinged := s.shared.pinged
	s.shared.mu.Unlock()
	if pinged || s.shared.senders.Load() == 0 {
		_ = fd.Wake()
	}
	return nil
}

// Reregister refreshes the OS registration of the wakeup descriptor.
func (s *Source) Reregister(poll *tloop.Poll, token tloop.Token) error {
	s.shared.mu.Lock()
	fd := s.shared.fd
	s.shared.mu.Unlock()
	if fd == nil {
		return errNotRegistered
	}
	return poll.Reregister(fd.ReadFD(), token, tloop.Readable, tloop.Level)
}

// Unregister detaches the wakeup descriptor from the poller and closes
// it. Pings arriving from here on are held until the next Register.
func (s *Source) Unregister(poll *tloop.Poll) error {
	s.shared.mu.Lock()
	fd := s.shared.fd
	s.shared.fd = nil
	s.shared.mu.Unlock()
	if fd == nil {
		return nil
	}
	err := poll.Unregister(fd.ReadFD())
	return multierr.Append(err, fd.Close())
}

// ProcessEvents drains the wakeup descriptor and delivers a single Event
// if any ping arrived since the last dispatch. Once every Ping handle is
// closed the source removes itself.
func (s *Source) ProcessEvents(r tloop.Readiness, token tloop.Token, deliver func(Event) error) (tloop.PostAction, error) {
	s.shared.mu.Lock()
	fd := s.shared.fd
	s.shared.mu.Unlock()
	if fd != nil {
		fd.Drain()
	}
	s.shared.mu.Lock()
	pinged := s.shared.pinged
	s.shared.pinged = false
	s.shared.mu.Unlock()
	if pinged {
		if err := deliver(Event{}); err != nil {
			return tloop.PostContinue, err
		}
	}
	if s.shared.senders.Load() == 0 {
		return tloop.PostRemove, nil
	}
	return tloop.PostContinue, nil
}
