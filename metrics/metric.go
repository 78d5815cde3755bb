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

// Package metrics provides runtime monitoring data of the event loop, such
// as how well poll waits and wakeups coalesce, which is a good tool for
// performance tuning.
package metrics

import (
	"time"

	"go.uber.org/atomic"
	"trpc.group/trpc-go/tloop/log"
)

// All metrics definitions.
const (
	// The following constants are poll metrics.

	PollWait = iota
	PollNoWait
	PollEvents
	PollInterrupts

	// The following constants are dispatch metrics.

	DispatchEvents
	DispatchErrors
	StaleTokens
	TimerFires
	IdleRuns

	// The following constants are registration metrics.

	Inserts
	Removes
	Enables
	Disables
	Updates

	// The following constants are source metrics.

	Wakeups
	WakeupsCoalesced
	ChannelSends
	SignalForwards
	TasksScheduled
	TasksCompleted

	// Keep it last.

	Max
)

var (
	metrics [Max]atomic.Uint64
)

// Add metrics counter.
func Add(name int, delta uint64) {
	if name >= Max {
		return
	}
	metrics[name].Add(delta)
}

// Get one metric counter.
func Get(name int) uint64 {
	if name >= Max {
		return 0
	}
	return metrics[name].Load()
}

// GetAll get all metrics.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metrics {
		m[i] = metrics[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod shows metric info of duration d from now on.
// It will block d duration, and then prints metrics info.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	cur := GetAll()
	var m [Max]uint64
	for i := range metrics {
		m[i] = cur[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics shows metric info in console.
func ShowMetrics() {
	m := GetAll()
	showAll(m)
}

func showAll(m [Max]uint64) {
	log.Debug("######### tloop metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	showPollMetrics(m)
	showDispatchMetrics(m)
	showRegistrationMetrics(m)
	showSourceMetrics(m)
}

func showPollMetrics(m [Max]uint64) {
	log.Debugf("%-59s: %d", "# POLL - number of wait returns (tag:b)", m[PollWait])
	log.Debugf("%-59s: %d", "# POLL - number of waits called with msec=0 (tag:a)", m[PollNoWait])
	log.Debugf("%-59s: %d", "# POLL - number of total events", m[PollEvents])
	log.Debugf("%-59s: %d", "# POLL - number of interrupted waits", m[PollInterrupts])
	if m[PollWait] > 0 {
		log.Debugf("%-59s: %.2f%%", "# POLL - a/b * 100%", float32(m[PollNoWait])*100/float32(m[PollWait]))
		log.Debugf("%-59s: %.2f", "# POLL - average events number per wait",
			float32(m[PollEvents])/float32(m[PollWait]))
	}
}

func showDispatchMetrics(m [Max]uint64) {
	log.Debugf("%-59s: %d", "# DISPATCH - number of events dispatched", m[DispatchEvents])
	log.Debugf("%-59s: %d", "# DISPATCH - number of dispatch errors", m[DispatchErrors])
	log.Debugf("%-59s: %d", "# DISPATCH - number of stale tokens skipped", m[StaleTokens])
	log.Debugf("%-59s: %d", "# DISPATCH - number of timer firings", m[TimerFires])
	log.Debugf("%-59s: %d", "# DISPATCH - number of idle callbacks run", m[IdleRuns])
}

func showRegistrationMetrics(m [Max]uint64) {
	log.Debugf("%-59s: %d", "# TABLE - number of sources inserted", m[Inserts])
	log.Debugf("%-59s: %d", "# TABLE - number of sources removed", m[Removes])
	log.Debugf("%-59s: %d", "# TABLE - number of sources enabled", m[Enables])
	log.Debugf("%-59s: %d", "# TABLE - number of sources disabled", m[Disables])
	log.Debugf("%-59s: %d", "# TABLE - number of sources updated", m[Updates])
}

func showSourceMetrics(m [Max]uint64) {
	log.Debugf("%-59s: %d", "# SOURCE - number of wakeups written (tag:w)", m[Wakeups])
	log.Debugf("%-59s: %d", "# SOURCE - number of wakeups coalesced (tag:c)", m[WakeupsCoalesced])
	if total := m[Wakeups] + m[WakeupsCoalesced]; total > 0 {
		log.Debugf("%-59s: %.2f%%", "# SOURCE - c/(w+c) * 100%", float32(m[WakeupsCoalesced])*100/float32(total))
	}
	log.Debugf("%-59s: %d", "# SOURCE - number of channel messages sent", m[ChannelSends])
	log.Debugf("%-59s: %d", "# SOURCE - number of signals forwarded", m[SignalForwards])
	log.Debugf("%-59s: %d", "# SOURCE - number of tasks scheduled", m[TasksScheduled])
	log.Debugf("%-59s: %d", "# SOURCE - number of tasks completed", m[TasksCompleted])
}
