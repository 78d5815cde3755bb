// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

package safejob

import (
	"go.uber.org/atomic"
)

// OnceJob admits exactly one Begin and then stays closed.
type OnceJob struct {
	closed atomic.Bool
}

// Begin enters the job. Only the first call succeeds.
func (j *OnceJob) Begin() bool {
	return j.closed.CAS(false, true)
}

// End leaves the job.
func (j *OnceJob) End() {}

// Close shuts the job down without running it.
func (j *OnceJob) Close() {
	j.closed.Store(true)
}

// Closed reports whether the job has run or been closed.
func (j *OnceJob) Closed() bool {
	return j.closed.Load()
}
