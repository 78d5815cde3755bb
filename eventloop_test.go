//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package tloop_test

import (
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trpc.group/trpc-go/tloop"
	"trpc.group/trpc-go/tloop/channel"
	"trpc.group/trpc-go/tloop/timer"
)

func newLoop(t *testing.T, opts ...tloop.Option) *tloop.EventLoop {
	loop, err := tloop.New(opts...)
	require.Nil(t, err)
	t.Cleanup(func() { loop.Close() })
	return loop
}

// readySource watches the read end of a pipe and returns a configurable
// post action, so tests can drive every arm of the state machine.
type readySource struct {
	rd, wr *os.File
	action tloop.PostAction
}

func newReadySource(t *testing.T) *readySource {
	rd, wr, err := os.Pipe()
	require.Nil(t, err)
	t.Cleanup(func() {
		rd.Close()
		wr.Close()
	})
	return &readySource{rd: rd, wr: wr, action: tloop.PostContinue}
}

func (s *readySource) makeReady(t *testing.T) {
	_, err := s.wr.Write([]byte{0})
	require.Nil(t, err)
}

func (s *readySource) Register(poll *tloop.Poll, token tloop.Token) error {
	return poll.Register(int(s.rd.Fd()), token, tloop.Readable, tloop.Level)
}

func (s *readySource) Reregister(poll *tloop.Poll, token tloop.Token) error {
	return poll.Reregister(int(s.rd.Fd()), token, tloop.Readable, tloop.Level)
}

func (s *readySource) Unregister(poll *tloop.Poll) error {
	return poll.Unregister(int(s.rd.Fd()))
}

// ProcessEvents leaves the pipe undrained on purpose, the descriptor
// stays level-ready so tests can verify that disabling or removing a
// registration silences it anyway.
func (s *readySource) ProcessEvents(r tloop.Readiness, token tloop.Token, deliver func(tloop.Readiness) error) (tloop.PostAction, error) {
	if err := deliver(r); err != nil {
		return tloop.PostContinue, err
	}
	return s.action, nil
}

func TestStaleTokenAfterSlotReuse(t *testing.T) {
	loop := newLoop(t)
	h := loop.Handle()

	txA, srcA := channel.New[string]()
	defer txA.Close()
	tokenA, err := tloop.Insert[channel.Event[string]](h, srcA,
		func(channel.Event[string], any) error { return nil })
	require.Nil(t, err)
	require.Nil(t, h.Remove(tokenA))

	// B reuses A's freed slot under a new generation.
	txB, srcB := channel.New[string]()
	defer txB.Close()
	var got []string
	tokenB, err := tloop.Insert[channel.Event[string]](h, srcB,
		func(e channel.Event[string], data any) error {
			got = append(got, e.Msg)
			return nil
		})
	require.Nil(t, err)

	assert.ErrorIs(t, h.Enable(tokenA), tloop.ErrStaleToken)
	assert.ErrorIs(t, h.Disable(tokenA), tloop.ErrStaleToken)
	assert.ErrorIs(t, h.Update(tokenA), tloop.ErrStaleToken)
	assert.Nil(t, h.Remove(tokenA), "removing an already removed registration is a no-op")

	require.Nil(t, txB.Send("intact"))
	require.Nil(t, loop.Dispatch(0, nil))
	assert.Equal(t, []string{"intact"}, got,
		"operations on the stale token must not reach B")
	assert.Nil(t, h.Update(tokenB))
}

func TestUnknownTokenDistinctFromStale(t *testing.T) {
	loop := newLoop(t)
	h := loop.Handle()
	var never tloop.RegistrationToken
	assert.ErrorIs(t, h.Enable(never), tloop.ErrUnknownToken,
		"a token the loop never issued is unknown, not stale")
	assert.ErrorIs(t, h.Remove(never), tloop.ErrUnknownToken)
}

func TestRemovedMidBatchReadinessDiscarded(t *testing.T) {
	loop := newLoop(t)
	h := loop.Handle()
	srcA, srcB := newReadySource(t), newReadySource(t)

	var ran []string
	var tokenA, tokenB tloop.RegistrationToken
	var err error
	tokenA, err = tloop.Insert[tloop.Readiness](h, srcA,
		func(tloop.Readiness, any) error {
			ran = append(ran, "a")
			return h.Remove(tokenB)
		})
	require.Nil(t, err)
	tokenB, err = tloop.Insert[tloop.Readiness](h, srcB,
		func(tloop.Readiness, any) error {
			ran = append(ran, "b")
			return h.Remove(tokenA)
		})
	require.Nil(t, err)

	srcA.makeReady(t)
	srcB.makeReady(t)
	require.Nil(t, loop.Dispatch(0, nil))
	assert.Len(t, ran, 1,
		"readiness collected for a registration removed earlier in the batch is discarded")
}

func TestPostRemoveSilencesSource(t *testing.T) {
	loop := newLoop(t)
	src := newReadySource(t)
	src.action = tloop.PostRemove

	var calls int
	token, err := tloop.Insert[tloop.Readiness](loop.Handle(), src,
		func(tloop.Readiness, any) error {
			calls++
			return nil
		})
	require.Nil(t, err)

	src.makeReady(t)
	require.Nil(t, loop.Dispatch(0, nil))
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, loop.Handle().Enable(token), tloop.ErrStaleToken)

	// The pipe is still readable, the poller must no longer report it.
	require.Nil(t, loop.Dispatch(0, nil))
	assert.Equal(t, 1, calls, "a removed registration is never dispatched again")
}

func TestPostDisableUntilEnabled(t *testing.T) {
	loop := newLoop(t)
	src := newReadySource(t)
	src.action = tloop.PostDisable

	var calls int
	token, err := tloop.Insert[tloop.Readiness](loop.Handle(), src,
		func(tloop.Readiness, any) error {
			calls++
			return nil
		})
	require.Nil(t, err)

	src.makeReady(t)
	require.Nil(t, loop.Dispatch(0, nil))
	assert.Equal(t, 1, calls)

	require.Nil(t, loop.Dispatch(0, nil))
	assert.Equal(t, 1, calls,
		"a disabled registration stays quiet while its descriptor remains ready")

	src.action = tloop.PostContinue
	require.Nil(t, loop.Handle().Enable(token))
	require.Nil(t, loop.Dispatch(0, nil))
	assert.Equal(t, 2, calls)
}

func TestIdleDeferredToNextIteration(t *testing.T) {
	loop := newLoop(t)
	h := loop.Handle()
	tx, src := channel.New[string]()
	defer tx.Close()

	var order []string
	_, err := tloop.Insert[channel.Event[string]](h, src,
		func(e channel.Event[string], data any) error {
			order = append(order, "msg")
			h.InsertIdle(func(any) { order = append(order, "idle") })
			return nil
		})
	require.Nil(t, err)

	require.Nil(t, tx.Send("x"))
	require.Nil(t, loop.Dispatch(0, nil))
	assert.Equal(t, []string{"msg"}, order,
		"an idle callback queued during dispatch never runs in the same iteration")

	require.Nil(t, loop.Dispatch(0, nil))
	assert.Equal(t, []string{"msg", "idle"}, order)
}

func TestIdleOrderAndRequeue(t *testing.T) {
	loop := newLoop(t)
	h := loop.Handle()

	var order []string
	h.InsertIdle(func(any) {
		order = append(order, "first")
		h.InsertIdle(func(any) { order = append(order, "requeued") })
	})
	h.InsertIdle(func(any) { order = append(order, "second") })

	require.Nil(t, loop.Dispatch(0, nil))
	assert.Equal(t, []string{"first", "second"}, order,
		"idle callbacks run in insertion order, requeues wait a full iteration")

	require.Nil(t, loop.Dispatch(0, nil))
	assert.Equal(t, []string{"first", "second", "requeued"}, order)
}

func TestIdleCancel(t *testing.T) {
	loop := newLoop(t)

	var ran bool
	idle := loop.Handle().InsertIdle(func(any) { ran = true })
	idle.Cancel()
	require.Nil(t, loop.Dispatch(0, nil))
	assert.False(t, ran)
}

func TestIdleOneShot(t *testing.T) {
	loop := newLoop(t)

	var runs int
	loop.Handle().InsertIdle(func(any) { runs++ })
	require.Nil(t, loop.Dispatch(0, nil))
	require.Nil(t, loop.Dispatch(0, nil))
	assert.Equal(t, 1, runs)
}

func TestWakeupUnblocksPoll(t *testing.T) {
	loop := newLoop(t)
	signal := loop.Signal()

	go func() {
		time.Sleep(50 * time.Millisecond)
		assert.Nil(t, signal.Wakeup())
	}()
	start := time.Now()
	require.Nil(t, loop.Dispatch(-1, nil))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second,
		"a cross-goroutine wakeup must unblock the poll promptly")
}

func TestStopFromAnotherGoroutine(t *testing.T) {
	loop := newLoop(t)
	signal := loop.Signal()

	go func() {
		time.Sleep(10 * time.Millisecond)
		assert.Nil(t, signal.Stop())
	}()
	done := make(chan error, 1)
	go func() { done <- loop.Run(nil) }()
	select {
	case err := <-done:
		assert.Nil(t, err, "a requested stop is not an error")
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after a stop request")
	}
}

func TestStopBeforeRunHonored(t *testing.T) {
	loop := newLoop(t)
	signal := loop.Signal()
	require.Nil(t, signal.Stop())

	fired := false
	_, err := tloop.Insert[timer.Event](loop.Handle(), timer.New(time.Now()),
		func(timer.Event, any) error {
			fired = true
			return nil
		})
	require.Nil(t, err)
	done := make(chan error, 1)
	go func() { done <- loop.Run(nil) }()
	select {
	case err := <-done:
		assert.Nil(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not honor the stop requested before it started")
	}
	assert.True(t, fired, "the first iteration completes before the stop is honored")

	// The run above consumed the request, a later iteration is not
	// preempted by it.
	require.Nil(t, loop.Dispatch(0, nil))
}

func TestReentrantDispatchRejected(t *testing.T) {
	loop := newLoop(t)

	var inner, innerClose error
	_, err := tloop.Insert[timer.Event](loop.Handle(), timer.New(time.Now()),
		func(timer.Event, any) error {
			inner = loop.Dispatch(0, nil)
			innerClose = loop.Close()
			return nil
		})
	require.Nil(t, err)
	require.Nil(t, loop.Dispatch(0, nil))
	assert.ErrorIs(t, inner, tloop.ErrDispatchBusy)
	assert.ErrorIs(t, innerClose, tloop.ErrDispatchBusy)
}

func TestReentrantInsertDuringCallback(t *testing.T) {
	loop := newLoop(t)
	h := loop.Handle()

	var order []string
	_, err := tloop.Insert[timer.Event](h, timer.New(time.Now()),
		func(timer.Event, any) error {
			order = append(order, "outer")
			_, err := tloop.Insert[timer.Event](h, timer.New(time.Now()),
				func(timer.Event, any) error {
					order = append(order, "inner")
					return nil
				})
			return err
		})
	require.Nil(t, err)

	require.Nil(t, loop.Dispatch(0, nil))
	require.Nil(t, loop.Dispatch(0, nil))
	assert.Equal(t, []string{"outer", "inner"}, order,
		"a source inserted from inside a callback is dispatched normally")
}

func TestDispatchErrorLeavesLoopUsable(t *testing.T) {
	loop := newLoop(t)
	src := newReadySource(t)
	boom := errors.New("boom")

	fail := true
	var calls int
	_, err := tloop.Insert[tloop.Readiness](loop.Handle(), src,
		func(tloop.Readiness, any) error {
			calls++
			if fail {
				return boom
			}
			return nil
		})
	require.Nil(t, err)

	src.makeReady(t)
	err = loop.Dispatch(0, nil)
	require.NotNil(t, err)
	assert.Equal(t, boom, errors.Cause(err))

	fail = false
	require.Nil(t, loop.Dispatch(0, nil))
	assert.Equal(t, 2, calls, "the table stays consistent after a dispatch error")
}

func TestCallbackReceivesData(t *testing.T) {
	loop := newLoop(t)

	var got any
	_, err := tloop.Insert[timer.Event](loop.Handle(), timer.New(time.Now()),
		func(e timer.Event, data any) error {
			got = data
			return nil
		})
	require.Nil(t, err)
	require.Nil(t, loop.Dispatch(0, "shared state"))
	assert.Equal(t, "shared state", got)
}

func TestMaxRegistrations(t *testing.T) {
	loop := newLoop(t, tloop.WithMaxRegistrations(1))
	h := loop.Handle()

	token, err := tloop.Insert[timer.Event](h, timer.NewAfter(time.Hour),
		func(timer.Event, any) error { return nil })
	require.Nil(t, err)

	_, err = tloop.Insert[timer.Event](h, timer.NewAfter(time.Hour),
		func(timer.Event, any) error { return nil })
	assert.ErrorIs(t, err, tloop.ErrRegistryFull)

	require.Nil(t, h.Remove(token))
	_, err = tloop.Insert[timer.Event](h, timer.NewAfter(time.Hour),
		func(timer.Event, any) error { return nil })
	assert.Nil(t, err, "removal frees capacity")
}

func TestClosedLoop(t *testing.T) {
	loop, err := tloop.New()
	require.Nil(t, err)
	src := newReadySource(t)
	_, err = tloop.Insert[tloop.Readiness](loop.Handle(), src,
		func(tloop.Readiness, any) error { return nil })
	require.Nil(t, err)

	signal := loop.Signal()
	require.Nil(t, loop.Close())
	assert.Nil(t, loop.Close(), "closing a closed loop is a no-op")

	_, err = tloop.Insert[tloop.Readiness](loop.Handle(), newReadySource(t),
		func(tloop.Readiness, any) error { return nil })
	assert.ErrorIs(t, err, tloop.ErrLoopClosed)
	assert.ErrorIs(t, loop.Dispatch(0, nil), tloop.ErrLoopClosed)
	assert.ErrorIs(t, loop.Run(nil), tloop.ErrLoopClosed)
	assert.ErrorIs(t, signal.Wakeup(), tloop.ErrLoopClosed)
}
