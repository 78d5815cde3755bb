// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

package safejob

import (
	"sync"

	"go.uber.org/atomic"
)

// ConcurrentJob admits any number of concurrent runners. Close waits until
// every runner has left and then keeps new ones out.
type ConcurrentJob struct {
	mu     sync.RWMutex
	closed atomic.Bool
}

// Begin enters the job if it is not closed.
func (j *ConcurrentJob) Begin() bool {
	j.mu.RLock()
	if j.closed.Load() {
		j.mu.RUnlock()
		return false
	}
	return true
}

// End leaves the job entered by a successful Begin.
func (j *ConcurrentJob) End() {
	j.mu.RUnlock()
}

// Close shuts the job down. It waits for all running jobs to end.
func (j *ConcurrentJob) Close() {
	j.mu.Lock()
	j.closed.Store(true)
	j.mu.Unlock()
}

// Closed reports whether the job has been closed.
func (j *ConcurrentJob) Closed() bool {
	return j.closed.Load()
}
