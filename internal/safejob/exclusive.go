// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

package safejob

import (
	"go.uber.org/atomic"

	"trpc.group/trpc-go/tloop/internal/locker"
)

// ExclusiveUnblockJob admits one runner at a time. A Begin that loses the
// race fails immediately instead of blocking.
type ExclusiveUnblockJob struct {
	l      locker.Locker
	closed atomic.Bool
}

// Begin enters the job if no other runner holds it and it is not closed.
func (j *ExclusiveUnblockJob) Begin() bool {
	if !j.l.TryLock() {
		return false
	}
	if j.closed.Load() {
		j.l.Unlock()
		return false
	}
	return true
}

// End leaves the job entered by a successful Begin.
func (j *ExclusiveUnblockJob) End() {
	j.l.Unlock()
}

// Close shuts the job down. It waits for a running job to end.
func (j *ExclusiveUnblockJob) Close() {
	j.l.Lock()
	j.closed.Store(true)
	j.l.Unlock()
}

// Closed reports whether the job has been closed.
func (j *ExclusiveUnblockJob) Closed() bool {
	return j.closed.Load()
}
