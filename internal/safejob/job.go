// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

// Package safejob provides guards that bracket work against concurrent
// execution and use after close.
package safejob

// Job brackets a piece of work. Callers wrap the work in Begin and End, a
// failed Begin means the work must not run.
type Job interface {
	// Begin enters the job and reports whether the work may run.
	Begin() bool

	// End leaves the job entered by a successful Begin.
	End()

	// Close shuts the job down. After Close, Begin always fails.
	Close()

	// Closed reports whether the job has been closed.
	Closed() bool
}

var (
	_ Job = (*OnceJob)(nil)
	_ Job = (*ExclusiveUnblockJob)(nil)
	_ Job = (*ConcurrentJob)(nil)
)
