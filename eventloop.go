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

package tloop

import (
	"sort"
	"time"

	"github.com/eapache/queue"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"trpc.group/trpc-go/tloop/internal/poller"
	"trpc.group/trpc-go/tloop/internal/registry"
	"trpc.group/trpc-go/tloop/internal/safejob"
	"trpc.group/trpc-go/tloop/log"
	"trpc.group/trpc-go/tloop/metrics"
)

type regState uint8

const (
	stateArmed regState = iota
	stateDisarmed
)

// regEntry is the table payload of one registration.
type regEntry struct {
	dispatcher Dispatcher
	state      regState
}

// EventLoop multiplexes all registered event sources over one OS poller
// and dispatches their events on a single goroutine. Exactly one
// goroutine may execute Run or Dispatch at a time, every callback runs on
// that goroutine, and a callback that blocks stalls all other sources.
type EventLoop struct {
	poller    poller.Poller
	poll      *Poll
	table     *registry.Table[*regEntry]
	deadlines map[uint64]DeadlineProvider
	idle      *queue.Queue
	events    []poller.Event
	job       safejob.ExclusiveUnblockJob
	signal    *signalShared
	opts      options
}

// New creates an event loop with an already armed internal wake
// registration backing LoopSignal.
func New(opts ...Option) (*EventLoop, error) {
	var o options
	o.setDefault()
	for _, opt := range opts {
		opt.f(&o)
	}
	limit := o.maxRegistrations
	if limit > 0 {
		// One extra slot keeps the internal wake registration from
		// competing with the embedder's sources.
		limit++
	}
	p, err := poller.New()
	if err != nil {
		return nil, errors.Wrap(err, "create poller")
	}
	wake, err := newWakeSource()
	if err != nil {
		p.Close()
		return nil, errors.Wrap(err, "create wakeup fd")
	}
	loop := &EventLoop{
		poller:    p,
		table:     registry.New[*regEntry](limit),
		deadlines: make(map[uint64]DeadlineProvider),
		idle:      queue.New(),
		events:    make([]poller.Event, o.batchSize),
		signal:    &signalShared{fd: wake.fd},
		opts:      o,
	}
	loop.poll = &Poll{poller: p}
	if _, err := Insert[struct{}](loop.Handle(), wake, func(struct{}, any) error { return nil }); err != nil {
		wake.fd.Close()
		p.Close()
		return nil, errors.Wrap(err, "register wake source")
	}
	return loop, nil
}

// Handle returns a handle for mutating the registration table. Handles
// may be copied freely, every copy addresses this loop.
func (l *EventLoop) Handle() LoopHandle {
	return LoopHandle{loop: l}
}

// Signal returns a signal for waking or stopping the loop from any
// goroutine.
func (l *EventLoop) Signal() LoopSignal {
	return LoopSignal{shared: l.signal}
}

// Run blocks dispatching events until a stop is requested through
// LoopSignal, a source reports an error, or polling fails. The data
// argument is handed to every callback of this run. A stop requested
// while the loop was not running is consumed by the next Run, which
// returns after completing one iteration. Returns nil when stopped.
func (l *EventLoop) Run(data any) error {
	if !l.job.Begin() {
		return l.busyErr()
	}
	defer l.job.End()
	for {
		if err := l.dispatch(l.opts.pollTimeout, data); err != nil {
			return err
		}
		// Swap consumes the request, a stale stop never leaks into a
		// later run.
		if l.signal.stopped.Swap(false) {
			log.Debugf("event loop stopped, %d live registrations", l.table.Len())
			return nil
		}
	}
}

// Dispatch performs a single loop iteration: wait for readiness at most
// timeout, dispatch the collected batch, fire expired deadlines and drain
// the idle queue. A negative timeout blocks until readiness or wakeup,
// zero polls without blocking. Deadlines of registered sources shorten
// the wait. Returns ErrDispatchBusy when called while another dispatch is
// executing, e.g. from inside a callback.
func (l *EventLoop) Dispatch(timeout time.Duration, data any) error {
	if !l.job.Begin() {
		return l.busyErr()
	}
	defer l.job.End()
	return l.dispatch(timeout, data)
}

// Close removes every live registration, releasing the sources' OS
// resources, and shuts the poller down. It fails with ErrDispatchBusy
// while Run or Dispatch is executing, request a stop through LoopSignal
// first. Closing a closed loop is a no-op.
func (l *EventLoop) Close() error {
	if !l.job.Begin() {
		if l.job.Closed() {
			return nil
		}
		return ErrDispatchBusy
	}
	var tokens []uint64
	l.table.ForEach(func(token uint64, _ *regEntry) bool {
		tokens = append(tokens, token)
		return true
	})
	var err error
	for _, token := range tokens {
		err = multierr.Append(err, l.remove(token))
	}
	err = multierr.Append(err, l.poller.Close())
	l.job.End()
	l.job.Close()
	return err
}

func (l *EventLoop) busyErr() error {
	if l.job.Closed() {
		return ErrLoopClosed
	}
	return ErrDispatchBusy
}

func (l *EventLoop) dispatch(timeout time.Duration, data any) error {
	// Snapshot the idle queue before dispatching. Idle callbacks queued
	// from inside this iteration's callbacks run on the next iteration.
	idleN := l.idle.Length()
	n, err := l.poller.Wait(l.events, l.nextTimeout(timeout))
	if err != nil {
		return errors.Wrap(err, "poll wait")
	}
	if err := l.dispatchBatch(n, data); err != nil {
		return err
	}
	if err := l.fireDeadlines(data); err != nil {
		return err
	}
	l.runIdle(idleN, data)
	return nil
}

func (l *EventLoop) dispatchBatch(n int, data any) error {
	for i := 0; i < n; i++ {
		ev := l.events[i]
		// Look the token up anew for every event. A callback earlier in
		// the batch may have removed or disabled this registration, its
		// already collected readiness must not be delivered.
		entry, err := l.table.Get(ev.Token)
		if err != nil {
			metrics.Add(metrics.StaleTokens, 1)
			continue
		}
		if entry.state == stateDisarmed {
			continue
		}
		if err := l.dispatchOne(entry, Token(ev.Token), readinessOf(ev.Flags), data); err != nil {
			return err
		}
	}
	return nil
}

// dispatchOne feeds one readiness to a source and applies the returned
// post action. A source error abandons the rest of the batch, the table
// stays consistent because every mutation so far went through the
// registry.
func (l *EventLoop) dispatchOne(entry *regEntry, token Token, r Readiness, data any) error {
	metrics.Add(metrics.DispatchEvents, 1)
	action, err := entry.dispatcher.Dispatch(r, token, data)
	if err != nil {
		metrics.Add(metrics.DispatchErrors, 1)
		return errors.Wrapf(err, "dispatch %s", token)
	}
	return l.apply(action, token)
}

// apply carries out a post action. The table is consulted afresh, the
// callback may have removed its own registration through the handle
// before returning.
func (l *EventLoop) apply(action PostAction, token Token) error {
	switch action {
	case PostContinue:
		return nil
	case PostReregister:
		if err := l.update(uint64(token)); err != nil {
			return errors.Wrapf(err, "apply %s to %s", action, token)
		}
		return nil
	case PostDisable:
		if err := l.disable(uint64(token)); err != nil {
			return errors.Wrapf(err, "apply %s to %s", action, token)
		}
		return nil
	case PostRemove:
		return l.remove(uint64(token))
	default:
		return errors.Errorf("unknown post action %d for %s", action, token)
	}
}

// nextTimeout computes the poll wait in milliseconds as the minimum of
// the caller's bound and the nearest deadline of any registered source.
func (l *EventLoop) nextTimeout(timeout time.Duration) int {
	msec := -1
	if timeout >= 0 {
		msec = durationToMsec(timeout)
	}
	if len(l.deadlines) == 0 {
		return msec
	}
	now := time.Now()
	for _, provider := range l.deadlines {
		deadline, ok := provider.NextDeadline()
		if !ok {
			continue
		}
		left := durationToMsec(deadline.Sub(now))
		if msec < 0 || left < msec {
			msec = left
		}
	}
	return msec
}

// durationToMsec rounds d up to whole milliseconds so a wait never
// returns ahead of a deadline.
func durationToMsec(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

// fireDeadlines dispatches, in deadline order, every armed source whose
// deadline has expired. These synthesized dispatches carry a zero
// Readiness, no descriptor turned ready.
func (l *EventLoop) fireDeadlines(data any) error {
	if len(l.deadlines) == 0 {
		return nil
	}
	now := time.Now()
	type expired struct {
		token    uint64
		deadline time.Time
	}
	var due []expired
	for token, provider := range l.deadlines {
		if deadline, ok := provider.NextDeadline(); ok && !deadline.After(now) {
			due = append(due, expired{token: token, deadline: deadline})
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].token < due[j].token
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, d := range due {
		entry, err := l.table.Get(d.token)
		if err != nil {
			metrics.Add(metrics.StaleTokens, 1)
			continue
		}
		if entry.state == stateDisarmed {
			continue
		}
		metrics.Add(metrics.TimerFires, 1)
		if err := l.dispatchOne(entry, Token(d.token), Readiness{}, data); err != nil {
			return err
		}
	}
	return nil
}

// runIdle drains the n callbacks queued before this iteration began.
// Anything queued later, during the dispatch batch or the drain itself,
// waits for the next iteration, which also bounds the drain.
func (l *EventLoop) runIdle(n int, data any) {
	for i := 0; i < n; i++ {
		idle := l.idle.Remove().(*Idle)
		if idle.canceled {
			continue
		}
		metrics.Add(metrics.IdleRuns, 1)
		idle.fn(data)
	}
}

func (l *EventLoop) insert(d Dispatcher) (RegistrationToken, error) {
	if l.job.Closed() {
		return RegistrationToken{}, ErrLoopClosed
	}
	entry := &regEntry{dispatcher: d, state: stateArmed}
	token, err := l.table.Insert(entry)
	if err != nil {
		return RegistrationToken{}, err
	}
	// The OS registration and the table entry live and die together. If
	// the source cannot register, give the slot back.
	if err := d.Register(l.poll, Token(token)); err != nil {
		l.table.Remove(token)
		return RegistrationToken{}, errors.Wrap(err, "register event source")
	}
	if provider, ok := d.(DeadlineProvider); ok {
		l.deadlines[token] = provider
	}
	metrics.Add(metrics.Inserts, 1)
	return RegistrationToken{token: Token(token)}, nil
}

func (l *EventLoop) remove(token uint64) error {
	entry, err := l.table.Remove(token)
	if err != nil {
		if errors.Is(err, ErrStaleToken) {
			return nil
		}
		return err
	}
	delete(l.deadlines, token)
	metrics.Add(metrics.Removes, 1)
	if entry.state == stateDisarmed {
		// A disabled source already released its OS resources.
		return nil
	}
	if err := entry.dispatcher.Unregister(l.poll); err != nil {
		return errors.Wrap(err, "unregister event source")
	}
	return nil
}

func (l *EventLoop) enable(token uint64) error {
	entry, err := l.table.Get(token)
	if err != nil {
		return err
	}
	if entry.state == stateArmed {
		return nil
	}
	if err := entry.dispatcher.Register(l.poll, Token(token)); err != nil {
		return errors.Wrap(err, "register event source")
	}
	entry.state = stateArmed
	if provider, ok := entry.dispatcher.(DeadlineProvider); ok {
		l.deadlines[token] = provider
	}
	metrics.Add(metrics.Enables, 1)
	return nil
}

func (l *EventLoop) disable(token uint64) error {
	entry, err := l.table.Get(token)
	if err != nil {
		return err
	}
	if entry.state == stateDisarmed {
		return nil
	}
	if err := entry.dispatcher.Unregister(l.poll); err != nil {
		return errors.Wrap(err, "unregister event source")
	}
	entry.state = stateDisarmed
	delete(l.deadlines, token)
	metrics.Add(metrics.Disables, 1)
	return nil
}

func (l *EventLoop) update(token uint64) error {
	entry, err := l.table.Get(token)
	if err != nil {
		return err
	}
	if entry.state == stateDisarmed {
		return nil
	}
	if err := entry.dispatcher.Reregister(l.poll, Token(token)); err != nil {
		return errors.Wrap(err, "reregister event source")
	}
	metrics.Add(metrics.Updates, 1)
	return nil
}

func (l *EventLoop) insertIdle(fn func(data any)) *Idle {
	idle := &Idle{fn: fn}
	l.idle.Add(idle)
	return idle
}

func readinessOf(flags poller.Flags) Readiness {
	return Readiness{
		Readable: flags&poller.FlagReadable != 0,
		Writable: flags&poller.FlagWritable != 0,
		Error:    flags&poller.FlagError != 0,
	}
}
