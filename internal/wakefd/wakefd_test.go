// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

package wakefd_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"trpc.group/trpc-go/tloop/internal/wakefd"
	"trpc.group/trpc-go/tloop/metrics"
)

func TestWakeDrain(t *testing.T) {
	fd, err := wakefd.New()
	require.Nil(t, err)
	defer fd.Close()

	assert.False(t, fd.Drain(), "nothing fired yet")
	require.Nil(t, fd.Wake())
	assert.True(t, readProbe(fd.ReadFD()), "wake should make the descriptor readable")
	assert.True(t, fd.Drain())
	assert.False(t, fd.Drain(), "drain consumed the wakeup")
	assert.False(t, readProbe(fd.ReadFD()))
}

func TestWakeCoalesce(t *testing.T) {
	fd, err := wakefd.New()
	require.Nil(t, err)
	defer fd.Close()

	wakes := metrics.Get(metrics.Wakeups)
	coalesced := metrics.Get(metrics.WakeupsCoalesced)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Nil(t, fd.Wake())
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(1), metrics.Get(metrics.Wakeups)-wakes, "one write for the whole burst")
	assert.Equal(t, uint64(31), metrics.Get(metrics.WakeupsCoalesced)-coalesced)
	assert.True(t, fd.Drain())
	assert.False(t, fd.Drain(), "all wakeups coalesced into one")
	assert.False(t, readProbe(fd.ReadFD()))
}

func TestConcurrentClose(t *testing.T) {
	fd, err := wakefd.New()
	require.Nil(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Nil(t, fd.Close(), "only the first close releases, the rest are no-ops")
		}()
	}
	wg.Wait()
	assert.Equal(t, wakefd.ErrClosed, fd.Wake())
}

func TestWakeAfterClose(t *testing.T) {
	fd, err := wakefd.New()
	require.Nil(t, err)
	require.Nil(t, fd.Close())
	assert.Equal(t, wakefd.ErrClosed, fd.Wake())
	assert.False(t, fd.Drain())
	assert.Nil(t, fd.Close(), "close is idempotent")
}

// readProbe does a non-blocking read and reports whether the descriptor had
// anything buffered. The read consumes what it finds.
func readProbe(fd int) bool {
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	return err == nil && n > 0
}
