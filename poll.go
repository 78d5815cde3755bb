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
	"trpc.group/trpc-go/tloop/internal/poller"
)

// Poll grants event sources access to the loop's OS poller. Sources
// receive it in their Register, Reregister and Unregister methods for the
// duration of the call and must not retain it.
type Poll struct {
	poller poller.Poller
}

// Register adds fd to the poller. Readiness observed on fd is reported
// under the given token.
func (p *Poll) Register(fd int, token Token, interest Interest, mode Mode) error {
	return p.poller.Control(poller.OpAdd, fd, uint64(token), poller.Interest(interest), poller.Mode(mode))
}

// Reregister updates interest and mode of an already registered fd.
func (p *Poll) Reregister(fd int, token Token, interest Interest, mode Mode) error {
	return p.poller.Control(poller.OpMod, fd, uint64(token), poller.Interest(interest), poller.Mode(mode))
}

// Unregister removes fd from the poller.
func (p *Poll) Unregister(fd int) error {
	return p.poller.Control(poller.OpDel, fd, 0, 0, 0)
}
