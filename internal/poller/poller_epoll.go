// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build linux
// +build linux

package poller

import (
	"os"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/tloop/internal/poller/event"
	"trpc.group/trpc-go/tloop/metrics"
)

const (
	rflags = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLPRI
	wflags = unix.EPOLLOUT
)

type epoll struct {
	fd  int
	raw []event.EpollEvent
}

func newPoller() (Poller, error) {
	// Provide EPOLL_CLOEXEC flag for consistency with Go runtime.
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epoll{fd: fd}, nil
}

func epollWait(epfd int, events []event.EpollEvent, msec int) (n int, err error) {
	var r0 uintptr
	var _p0 = unsafe.Pointer(&events[0])
	if msec == 0 {
		r0, _, err = unix.RawSyscall6(unix.SYS_EPOLL_PWAIT,
			uintptr(epfd), uintptr(_p0), uintptr(len(events)), 0, 0, 0)
		metrics.Add(metrics.PollNoWait, 1)
	} else {
		r0, _, err = unix.Syscall6(unix.SYS_EPOLL_PWAIT,
			uintptr(epfd), uintptr(_p0), uintptr(len(events)), uintptr(msec), 0, 0)
	}
	if err == unix.Errno(0) {
		err = nil
	}
	metrics.Add(metrics.PollWait, 1)
	metrics.Add(metrics.PollEvents, uint64(r0))
	return int(r0), err
}

// Wait fills events with ready notifications, blocking at most msec
// milliseconds. Interrupted waits are retried with the remaining time.
func (ep *epoll) Wait(events []Event, msec int) (int, error) {
	if len(events) == 0 {
		return 0, errors.New("events buffer must not be empty")
	}
	if cap(ep.raw) < len(events) {
		ep.raw = make([]event.EpollEvent, len(events))
	}
	raw := ep.raw[:len(events)]
	var deadline time.Time
	if msec > 0 {
		deadline = time.Now().Add(time.Duration(msec) * time.Millisecond)
	}
	for {
		n, err := epollWait(ep.fd, raw, msec)
		if err == unix.EINTR {
			metrics.Add(metrics.PollInterrupts, 1)
			if msec > 0 {
				left := time.Until(deadline)
				if left <= 0 {
					return 0, nil
				}
				if msec = int(left.Milliseconds()); msec == 0 {
					msec = 1
				}
			}
			continue
		}
		if err != nil {
			return 0, os.NewSyscallError("epoll_pwait", err)
		}
		for i := 0; i < n; i++ {
			ev := &raw[i]
			events[i] = Event{
				Token: *(*uint64)(unsafe.Pointer(&ev.Data)),
				Flags: epollFlags(ev.Events),
			}
		}
		return n, nil
	}
}

func epollFlags(events uint32) Flags {
	var f Flags
	// Hangup still allows reads to observe EOF, report it as readable.
	if events&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP|unix.EPOLLHUP) != 0 {
		f |= FlagReadable
	}
	if events&unix.EPOLLOUT != 0 {
		f |= FlagWritable
	}
	if events&unix.EPOLLERR != 0 {
		f |= FlagError
	}
	return f
}

// Control adds, modifies or deletes the registration of fd in the epoll set.
func (ep *epoll) Control(op Op, fd int, token uint64, interest Interest, mode Mode) (err error) {
	defer func() {
		if err != nil { // Prevent unconditional execution of errors.Wrapf.
			err = errors.Wrapf(err, "%s fd %d", op, fd)
		}
	}()
	switch op {
	case OpAdd:
		evt := makeEpollEvent(token, interest, mode)
		return os.NewSyscallError("epoll_ctl add", epollCtl(ep.fd, unix.EPOLL_CTL_ADD, fd, &evt))
	case OpMod:
		evt := makeEpollEvent(token, interest, mode)
		return os.NewSyscallError("epoll_ctl mod", epollCtl(ep.fd, unix.EPOLL_CTL_MOD, fd, &evt))
	case OpDel:
		return os.NewSyscallError("epoll_ctl del", epollCtl(ep.fd, unix.EPOLL_CTL_DEL, fd, nil))
	default:
		return errors.New("operation not supported")
	}
}

func makeEpollEvent(token uint64, interest Interest, mode Mode) event.EpollEvent {
	var evt event.EpollEvent
	if interest&Read != 0 {
		evt.Events |= rflags
	}
	if interest&Write != 0 {
		evt.Events |= wflags
	}
	switch mode {
	case Edge:
		evt.Events |= unix.EPOLLET
	case OneShot:
		evt.Events |= unix.EPOLLONESHOT
	}
	*(*uint64)(unsafe.Pointer(&evt.Data)) = token
	return evt
}

func epollCtl(epfd int, op int, fd int, event *event.EpollEvent) error {
	var err error
	_, _, err = unix.RawSyscall6(
		unix.SYS_EPOLL_CTL,
		uintptr(epfd),
		uintptr(op),
		uintptr(fd),
		uintptr(unsafe.Pointer(event)),
		0, 0)
	if err == unix.Errno(0) {
		err = nil
	}
	return err
}

// Close closes the epoll descriptor.
func (ep *epoll) Close() error {
	return os.NewSyscallError("close", unix.Close(ep.fd))
}
