// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

//go:build linux
// +build linux

package wakefd

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

func (fd *FD) create() error {
	// Set EFD_CLOEXEC and EFD_NONBLOCK for consistency with Go runtime.
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return os.NewSyscallError("eventfd", err)
	}
	fd.rfd = efd
	fd.wfd = efd
	return nil
}

func (fd *FD) write() error {
	var buf [8]byte
	*(*uint64)(unsafe.Pointer(&buf[0])) = 1
	for {
		if _, err := unix.Write(fd.wfd, buf[:]); err != unix.EINTR && err != unix.EAGAIN {
			return os.NewSyscallError("write", err)
		}
	}
}

func (fd *FD) read() {
	var buf [8]byte
	for {
		if _, err := unix.Read(fd.rfd, buf[:]); err != unix.EINTR {
			return
		}
	}
}

func (fd *FD) close() error {
	return os.NewSyscallError("close", unix.Close(fd.rfd))
}
