// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

// Package generic adapts an arbitrary descriptor into an event source.
// The callback receives the raw readiness and performs its own I/O, the
// source neither reads from nor closes the descriptor.
package generic

import (
	"trpc.group/trpc-go/tloop"
)

// FD is anything exposing a pollable descriptor, *os.File among others.
type FD interface {
	Fd() uintptr
}

// RawFD adapts a bare descriptor number into an FD.
type RawFD int

// Fd implements FD.
func (fd RawFD) Fd() uintptr {
	return uintptr(fd)
}

var _ tloop.EventSource[tloop.Readiness] = (*Source)(nil)

// Source watches one descriptor. Ownership of the descriptor stays with
// the caller, removing the source only detaches it from the poller.
type Source struct {
	fd       FD
	interest tloop.Interest
	mode     tloop.Mode
	dirty    bool
}

// New creates a source watching fd with the given interest and mode.
func New(fd FD, interest tloop.Interest, mode tloop.Mode) *Source {
	return &Source{fd: fd, interest: interest, mode: mode}
}

// Interest returns the watched condition set.
func (s *Source) Interest() tloop.Interest {
	return s.interest
}

// Mode returns the notification mode.
func (s *Source) Mode() tloop.Mode {
	return s.mode
}

// SetInterest changes the watched condition set. The change reaches the
// OS on this source's next dispatch, or immediately through
// LoopHandle.Update.
func (s *Source) SetInterest(interest tloop.Interest) {
	s.interest = interest
	s.dirty = true
}

// SetMode changes the notification mode. The change reaches the OS on
// this source's next dispatch, or immediately through LoopHandle.Update.
func (s *Source) SetMode(mode tloop.Mode) {
	s.mode = mode
	s.dirty = true
}

// Register adds the descriptor to the poller.
func (s *Source) Register(poll *tloop.Poll, token tloop.Token) error {
	return poll.Register(int(s.fd.Fd()), token, s.interest, s.mode)
}

// Reregister refreshes the descriptor's registration with the current
// interest and mode.
func (s *Source) Reregister(poll *tloop.Poll, token tloop.Token) error {
	s.dirty = false
	return poll.Reregister(int(s.fd.Fd()), token, s.interest, s.mode)
}

// Unregister detaches the descriptor from the poller. The descriptor
// stays open.
func (s *Source) Unregister(poll *tloop.Poll) error {
	return poll.Unregister(int(s.fd.Fd()))
}

// ProcessEvents hands the observed readiness to the callback. A pending
// SetInterest or SetMode turns into a reregister once the callback is
// done.
func (s *Source) ProcessEvents(r tloop.Readiness, token tloop.Token, deliver func(tloop.Readiness) error) (tloop.PostAction, error) {
	if err := deliver(r); err != nil {
		return tloop.PostContinue, err
	}
	if s.dirty {
		s.dirty = false
		return tloop.PostReregister, nil
	}
	return tloop.PostContinue, nil
}
