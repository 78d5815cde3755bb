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
	"trpc.group/trpc-go/tloop/internal/wakefd"
)

// wakeSource is the always-registered source behind LoopSignal. Routing
// wakeups through an ordinary registration keeps the poller free of
// special cases, a wakeup is just one more readiness event in the batch.
type wakeSource struct {
	fd *wakefd.FD
}

func newWakeSource() (*wakeSource, error) {
	fd, err := wakefd.New()
	if err != nil {
		return nil, err
	}
	return &wakeSource{fd: fd}, nil
}

func (s *wakeSource) Register(poll *Poll, token Token) error {
	return poll.Register(s.fd.ReadFD(), token, Readable, Level)
}

func (s *wakeSource) Reregister(poll *Poll, token Token) error {
	return poll.Reregister(s.fd.ReadFD(), token, Readable, Level)
}

func (s *wakeSource) Unregister(poll *Poll) error {
	if err := poll.Unregister(s.fd.ReadFD()); err != nil {
		return err
	}
	return s.fd.Close()
}

func (s *wakeSource) ProcessEvents(r Readiness, token Token, deliver func(struct{}) error) (PostAction, error) {
	s.fd.Drain()
	return PostContinue, nil
}
