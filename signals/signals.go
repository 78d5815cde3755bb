// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

// Package signals provides an event source delivering OS signals to the
// loop. Signals are caught through os/signal and forwarded into an
// embedded channel source, so they arrive as ordinary dispatches on the
// loop goroutine.
package signals

import (
	"os"
	"os/signal"

	"trpc.group/trpc-go/tloop"
	"trpc.group/trpc-go/tloop/channel"
	"trpc.group/trpc-go/tloop/metrics"
)

// notifyBuffer absorbs bursts between signal arrival and the forwarder
// picking them up, os/signal drops signals on a full channel.
const notifyBuffer = 16

// Event reports a caught OS signal.
type Event struct {
	// Signal is the signal that was raised.
	Signal os.Signal
}

var _ tloop.EventSource[Event] = (*Source)(nil)

// Source watches a set of OS signals. The watched set may be adjusted at
// any time through Add, Remove and Set from the loop goroutine.
type Source struct {
	watched []os.Signal
	notify  chan os.Signal
	inner   *channel.Source[os.Signal]
	sender  *channel.Sender[os.Signal]
}

// New creates a source watching the given signals. An empty set watches
// nothing until Add or Set.
func New(sig ...os.Signal) *Source {
	tx, src := channel.New[os.Signal]()
	return &Source{watched: dedup(sig), inner: src, sender: tx}
}

// Add appends signals to the watched set.
func (s *Source) Add(sig ...os.Signal) {
	for _, one := range sig {
		if !contains(s.watched, one) {
			s.watched = append(s.watched, one)
		}
	}
	s.rearm()
}

// Remove drops signals from the watched set. Their disposition returns
// to whatever it was before the source watched them.
func (s *Source) Remove(sig ...os.Signal) {
	kept := s.watched[:0]
	for _, one := range s.watched {
		if !contains(sig, one) {
			kept = append(kept, one)
		}
	}
	s.watched = kept
	s.rearm()
}

// Set replaces the watched set.
func (s *Source) Set(sig ...os.Signal) {
	s.watched = dedup(sig)
	s.rearm()
}

// rearm realigns the runtime's signal routing with the watched set.
// Notify is cumulative per channel, so dropping anything needs a stop
// first.
func (s *Source) rearm() {
	if s.notify == nil {
		return
	}
	signal.Stop(s.notify)
	if len(s.watched) > 0 {
		signal.Notify(s.notify, s.watched...)
	}
}

// Register arms the embedded channel and starts catching the watched
// signals.
func (s *Source) Register(poll *tloop.Poll, token tloop.Token) error {
	if err := s.inner.Register(poll, token); err != nil {
		return err
	}
	s.notify = make(chan os.Signal, notifyBuffer)
	if len(s.watched) > 0 {
		signal.Notify(s.notify, s.watched...)
	}
	go s.forward(s.notify)
	return nil
}

// Reregister refreshes the embedded channel's OS registration.
func (s *Source) Reregister(poll *tloop.Poll, token tloop.Token) error {
	return s.inner.Reregister(poll, token)
}

// Unregister stops catching signals and detaches the embedded channel.
// Signals raised from here on follow their default disposition again.
func (s *Source) Unregister(poll *tloop.Poll) error {
	if s.notify != nil {
		// After Stop returns the runtime sends nothing more on notify,
		// closing it lets the forwarder exit.
		signal.Stop(s.notify)
		close(s.notify)
		s.notify = nil
	}
	return s.inner.Unregister(poll)
}

// ProcessEvents delivers every signal caught since the last dispatch, in
// arrival order.
func (s *Source) ProcessEvents(r tloop.Readiness, token tloop.Token, deliver func(Event) error) (tloop.PostAction, error) {
	return s.inner.ProcessEvents(r, token, func(e channel.Event[os.Signal]) error {
		if e.Closed {
			return nil
		}
		return deliver(Event{Signal: e.Msg})
	})
}

// forward pumps caught signals into the channel source until notify is
// closed.
func (s *Source) forward(notify <-chan os.Signal) {
	for sig := range notify {
		metrics.Add(metrics.SignalForwards, 1)
		_ = s.sender.Send(sig)
	}
}

func dedup(sigs []os.Signal) []os.Signal {
	var out []os.Signal
	for _, sig := range sigs {
		if !contains(out, sig) {
			out = append(out, sig)
		}
	}
	return out
}

func contains(sigs []os.Signal, sig os.Signal) bool {
	for _, one := range sigs {
		if one == sig {
			return true
		}
	}
	return false
}
