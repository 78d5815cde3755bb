//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package timer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/tloop"
	"trpc.group/trpc-go/tloop/timer"
)

func TestTimerFiresAtDeadlineNotAtBound(t *testing.T) {
	loop, err := tloop.New(tloop.WithPollTimeout(time.Second))
	require.Nil(t, err)
	defer loop.Close()
	signal := loop.Signal()

	var fired []time.Time
	_, err = tloop.Insert[timer.Event](loop.Handle(), timer.NewAfter(50*time.Millisecond),
		func(e timer.Event, data any) error {
			fired = append(fired, e.Scheduled)
			return signal.Stop()
		})
	require.Nil(t, err)

	start := time.Now()
	require.Nil(t, loop.Run(nil))
	elapsed := time.Since(start)
	require.Len(t, fired, 1)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond, "a timer never fires early")
	assert.Less(t, elapsed, 500*time.Millisecond, "the deadline cuts the poll bound short")
}

func TestTimerOneShotRemovesItself(t *testing.T) {
	loop, err := tloop.New()
	require.Nil(t, err)
	defer loop.Close()

	var fired int
	token, err := tloop.Insert[timer.Event](loop.Handle(), timer.New(time.Now()),
		func(timer.Event, any) error {
			fired++
			return nil
		})
	require.Nil(t, err)

	require.Nil(t, loop.Dispatch(0, nil))
	assert.Equal(t, 1, fired)
	assert.ErrorIs(t, loop.Handle().Enable(token), tloop.ErrStaleToken,
		"a spent timer frees its slot")
	require.Nil(t, loop.Dispatch(0, nil))
	assert.Equal(t, 1, fired)
}

func TestTimerPeriodicWithoutDrift(t *testing.T) {
	loop, err := tloop.New()
	require.Nil(t, err)
	defer loop.Close()
	signal := loop.Signal()

	src := timer.NewAfter(10 * time.Millisecond)
	var fired []time.Time
	_, err = tloop.Insert[timer.Event](loop.Handle(), src,
		func(e timer.Event, data any) error {
			fired = append(fired, e.Scheduled)
			if len(fired) == 3 {
				return signal.Stop()
			}
			src.RescheduleAfter(10 * time.Millisecond)
			return nil
		})
	require.Nil(t, err)

	start := time.Now()
	require.Nil(t, loop.Run(nil))
	require.Len(t, fired, 3)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.True(t, fired[1].Equal(fired[0].Add(10*time.Millisecond)),
		"reschedule counts from the fired deadline, not from now")
	assert.True(t, fired[2].Equal(fired[1].Add(10*time.Millisecond)))
}

func TestTimerRescheduleAt(t *testing.T) {
	loop, err := tloop.New()
	require.Nil(t, err)
	defer loop.Close()

	src := timer.NewAfter(-time.Millisecond)
	next := time.Now().Add(5 * time.Millisecond)
	var fired []time.Time
	token, err := tloop.Insert[timer.Event](loop.Handle(), src,
		func(e timer.Event, data any) error {
			fired = append(fired, e.Scheduled)
			if len(fired) == 1 {
				src.RescheduleAt(next)
			}
			return nil
		})
	require.Nil(t, err)

	require.Nil(t, loop.Dispatch(0, nil))
	require.Len(t, fired, 1, "a past deadline fires on the first dispatch")
	require.Nil(t, loop.Dispatch(time.Second, nil))
	require.Len(t, fired, 2)
	assert.True(t, fired[1].Equal(next))
	assert.ErrorIs(t, loop.Handle().Enable(token), tloop.ErrStaleToken)
}

func TestTimerDisable(t *testing.T) {
	loop, err := tloop.New()
	require.Nil(t, err)
	defer loop.Close()

	var fired int
	token, err := tloop.Insert[timer.Event](loop.Handle(), timer.New(time.Now()),
		func(timer.Event, any) error {
			fired++
			return nil
		})
	require.Nil(t, err)

	require.Nil(t, loop.Handle().Disable(token))
	require.Nil(t, loop.Dispatch(0, nil))
	assert.Equal(t, 0, fired, "a disabled timer does not fire past its deadline")

	require.Nil(t, loop.Handle().Enable(token))
	require.Nil(t, loop.Dispatch(0, nil))
	assert.Equal(t, 1, fired)
}
