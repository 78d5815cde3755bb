// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

package poller

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/tloop/metrics"
)

type kqueue struct {
	fd  int
	raw []unix.Kevent_t
	// Kevent udata may only hold pointers, tokens are kept aside instead.
	tokens map[int]uint64
}

func newPoller() (Poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	// Provide FD_CLOEXEC flag for consistency with Go runtime.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &kqueue{fd: fd, tokens: make(map[int]uint64)}, nil
}

// Wait fills events with ready notifications, blocking at most msec
// milliseconds. Interrupted waits are retried with the remaining time.
func (k *kqueue) Wait(events []Event, msec int) (int, error) {
	if len(events) == 0 {
		return 0, errors.New("events buffer must not be empty")
	}
	if cap(k.raw) < len(events) {
		k.raw = make([]unix.Kevent_t, len(events))
	}
	raw := k.raw[:len(events)]
	var deadline time.Time
	if msec > 0 {
		deadline = time.Now().Add(time.Duration(msec) * time.Millisecond)
	}
	for {
		var ts *unix.Timespec
		if msec >= 0 {
			t := unix.NsecToTimespec(int64(msec) * int64(time.Millisecond))
			ts = &t
		}
		n, err := unix.Kevent(k.fd, nil, raw, ts)
		metrics.Add(metrics.PollWait, 1)
		if msec == 0 {
			metrics.Add(metrics.PollNoWait, 1)
		}
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
			return 0, os.NewSyscallError("kevent", err)
		}
		metrics.Add(metrics.PollEvents, uint64(n))
		cnt := 0
		for i := 0; i < n; i++ {
			ev := &raw[i]
			token, ok := k.tokens[int(ev.Ident)]
			if !ok {
				continue
			}
			events[cnt] = Event{Token: token, Flags: keventFlags(ev)}
			cnt++
		}
		return cnt, nil
	}
}

func keventFlags(ev *unix.Kevent_t) Flags {
	var f Flags
	if ev.Filter == unix.EVFILT_READ {
		f |= FlagReadable
	}
	if ev.Filter == unix.EVFILT_WRITE {
		f |= FlagWritable
	}
	if ev.Flags&(unix.EV_ERROR|unix.EV_EOF) != 0 {
		f |= FlagError
	}
	return f
}

// Control adds, modifies or deletes the registration of fd in the kqueue.
func (k *kqueue) Control(op Op, fd int, token uint64, interest Interest, mode Mode) (err error) {
	defer func() {
		if err != nil { // Prevent unconditional execution of errors.Wrapf.
			err = errors.Wrapf(err, "%s fd %d", op, fd)
		}
	}()
	switch op {
	case OpAdd:
		if err := k.add(fd, interest, mode); err != nil {
			return err
		}
		k.tokens[fd] = token
		return nil
	case OpMod:
		// Kqueue has no atomic replace, drop both filters then re-add.
		k.drop(fd)
		if err := k.add(fd, interest, mode); err != nil {
			delete(k.tokens, fd)
			return err
		}
		k.tokens[fd] = token
		return nil
	case OpDel:
		k.drop(fd)
		delete(k.tokens, fd)
		return nil
	default:
		return errors.New("operation not supported")
	}
}

func (k *kqueue) add(fd int, interest Interest, mode Mode) error {
	var flags uint16 = unix.EV_ADD | unix.EV_ENABLE | unix.EV_RECEIPT
	switch mode {
	case Edge:
		flags |= unix.EV_CLEAR
	case OneShot:
		flags |= unix.EV_ONESHOT
	}
	var changes []unix.Kevent_t
	if interest&Read != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident:  keventIdent(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}
	if interest&Write != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident:  keventIdent(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(k.fd, changes, nil, nil); err != nil {
		return os.NewSyscallError("kevent add", err)
	}
	return nil
}

// drop removes both filters of fd, filters that were never added are ignored.
func (k *kqueue) drop(fd int) {
	del := []unix.Kevent_t{{
		Ident:  keventIdent(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_DELETE,
	}}
	unix.Kevent(k.fd, del, nil, nil)
	del[0].Filter = unix.EVFILT_WRITE
	unix.Kevent(k.fd, del, nil, nil)
}

// Close closes the kqueue descriptor.
func (k *kqueue) Close() error {
	return os.NewSyscallError("close", unix.Close(k.fd))
}
