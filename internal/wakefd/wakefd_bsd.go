// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

package wakefd

import (
	"os"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

func (fd *FD) create() error {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return os.NewSyscallError("pipe", err)
	}
	for _, f := range p {
		if _, err := unix.FcntlInt(uintptr(f), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return os.NewSyscallError("fcntl", err)
		}
		if err := unix.SetNonblock(f, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return os.NewSyscallError("setnonblock", err)
		}
	}
	fd.rfd = p[0]
	fd.wfd = p[1]
	return nil
}

func (fd *FD) write() error {
	buf := [1]byte{1}
	for {
		if _, err := unix.Write(fd.wfd, buf[:]); err != unix.EINTR && err != unix.EAGAIN {
			return os.NewSyscallError("write", err)
		}
	}
}

func (fd *FD) read() {
	var buf [64]byte
	for {
		n, err := unix.Read(fd.rfd, buf[:])
		if err == unix.EINTR || n == len(buf) {
			continue
		}
		return
	}
}

func (fd *FD) close() error {
	return multierr.Append(
		os.NewSyscallError("close", unix.Close(fd.rfd)),
		os.NewSyscallError("close", unix.Close(fd.wfd)),
	)
}
