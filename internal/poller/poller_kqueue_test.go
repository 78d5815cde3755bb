// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

package poller_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/tloop/internal/poller"
)

func newPipe(t *testing.T) (rfd, wfd int) {
	t.Helper()
	var p [2]int
	require.Nil(t, unix.Pipe(p[:]))
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func TestWaitReadable(t *testing.T) {
	p, err := poller.New()
	require.Nil(t, err)
	defer p.Close()

	rfd, wfd := newPipe(t)
	const token = uint64(7)<<32 | uint64(3)
	require.Nil(t, p.Control(poller.OpAdd, rfd, token, poller.Read, poller.Level))

	events := make([]poller.Event, 8)
	n, err := p.Wait(events, 0)
	assert.Nil(t, err)
	assert.Equal(t, 0, n)

	_, err = unix.Write(wfd, []byte{1})
	require.Nil(t, err)

	n, err = p.Wait(events, -1)
	require.Nil(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, token, events[0].Token)
	assert.NotZero(t, events[0].Flags&poller.FlagReadable)
}

func TestControlMod(t *testing.T) {
	p, err := poller.New()
	require.Nil(t, err)
	defer p.Close()

	rfd, wfd := newPipe(t)
	require.Nil(t, p.Control(poller.OpAdd, wfd, 1, poller.Write, poller.Level))
	require.Nil(t, p.Control(poller.OpMod, wfd, 2, poller.Write, poller.Level))

	events := make([]poller.Event, 8)
	n, err := p.Wait(events, -1)
	require.Nil(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, uint64(2), events[0].Token)
	assert.NotZero(t, events[0].Flags&poller.FlagWritable)

	require.Nil(t, p.Control(poller.OpDel, wfd, 0, 0, 0))
	n, err = p.Wait(events, 0)
	assert.Nil(t, err)
	assert.Equal(t, 0, n)
	_ = rfd
}
