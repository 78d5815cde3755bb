// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

package safejob_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"trpc.group/trpc-go/tloop/internal/safejob"
)

func TestOnceJob(t *testing.T) {
	var job safejob.OnceJob
	assert.False(t, job.Closed())
	assert.True(t, job.Begin())
	job.End()
	assert.False(t, job.Begin())
	assert.True(t, job.Closed())

	var closed safejob.OnceJob
	closed.Close()
	assert.False(t, closed.Begin())
	assert.True(t, closed.Closed())
}

func TestExclusiveUnblockJob(t *testing.T) {
	var job safejob.ExclusiveUnblockJob
	assert.True(t, job.Begin())
	// A concurrent Begin loses without blocking.
	assert.False(t, job.Begin())
	job.End()
	assert.True(t, job.Begin())
	job.End()

	job.Close()
	assert.True(t, job.Closed())
	assert.False(t, job.Begin())
}

func TestConcurrentJob(t *testing.T) {
	var job safejob.ConcurrentJob
	assert.True(t, job.Begin())
	assert.True(t, job.Begin())
	job.End()
	job.End()

	var wg sync.WaitGroup
	var count int
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !job.Begin() {
				return
			}
			defer job.End()
			mu.Lock()
			count++
			mu.Unlock()
		}()
	}
	wg.Wait()

	job.Close()
	assert.True(t, job.Closed())
	assert.False(t, job.Begin())
}

func TestConcurrentJobCloseWaits(t *testing.T) {
	var job safejob.ConcurrentJob
	assert.True(t, job.Begin())

	done := make(chan struct{})
	go func() {
		job.Close()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("close returned while a job was running")
	default:
	}
	job.End()
	<-done
	assert.True(t, job.Closed())
}
