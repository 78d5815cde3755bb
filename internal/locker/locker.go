// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package locker provides locking utilities.
package locker

import (
	"runtime"
	"sync/atomic"
)

const (
	unlocked = 0
	locked   = 1
)

// Locker is a spinlock. Critical sections guarded by it must be short and
// must not block. The zero value is an unlocked Locker.
type Locker struct {
	state uint32
}

// Lock locks l, spinning until the lock becomes available.
func (l *Locker) Lock() {
	for !atomic.CompareAndSwapUint32(&l.state, unlocked, locked) {
		runtime.Gosched()
	}
}

// Unlock unlocks l. It is allowed for one goroutine to lock a Locker and
// arrange for another goroutine to unlock it.
func (l *Locker) Unlock() {
	atomic.StoreUint32(&l.state, unlocked)
}

// TryLock tries to lock l without spinning and reports whether it succeeded.
func (l *Locker) TryLock() bool {
	return atomic.CompareAndSwapUint32(&l.state, unlocked, locked)
}

// IsLocked reports whether l is currently held.
func (l *Locker) IsLocked() bool {
	return atomic.LoadUint32(&l.state) == locked
}
