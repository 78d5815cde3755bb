// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package poller provides readiness notification backends built on the
// operating system polling facilities.
package poller

import "fmt"

// Interest selects the readiness kinds a descriptor is watched for.
type Interest uint8

// Constants for Interest.
const (
	Read Interest = 1 << iota
	Write
)

// String implements fmt.Stringer.
func (i Interest) String() string {
	switch i {
	case Read:
		return "Read"
	case Write:
		return "Write"
	case Read | Write:
		return "ReadWrite"
	default:
		return fmt.Sprintf("Interest(%d)", i)
	}
}

// Mode controls how readiness of a descriptor is reported.
type Mode uint8

// Constants for Mode.
const (
	Level Mode = iota
	Edge
	OneShot
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case Level:
		return "Level"
	case Edge:
		return "Edge"
	case OneShot:
		return "OneShot"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// Op defines the operation of Poller.Control.
type Op uint8

// Constants for Op.
const (
	OpAdd Op = iota
	OpMod
	OpDel
)

// String implements fmt.Stringer.
func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpMod:
		return "mod"
	case OpDel:
		return "del"
	default:
		return fmt.Sprintf("op(%d)", o)
	}
}

// Flags reports the readiness kinds carried by a single event.
type Flags uint8

// Constants for Flags.
const (
	FlagReadable Flags = 1 << iota
	FlagWritable
	FlagError
)

// Event is one readiness notification harvested from the kernel. Token is
// the value the descriptor was registered with.
type Event struct {
	Token uint64
	Flags Flags
}

// Poller monitors registered file descriptors and reports their readiness.
// Wait and Control must be called from a single goroutine.
type Poller interface {
	// Wait fills events with pending notifications and returns the number
	// filled. msec < 0 blocks until an event arrives, msec == 0 polls without
	// blocking, msec > 0 blocks for at most that many milliseconds.
	// Interrupted waits are retried internally with the remaining time, a
	// fully elapsed wait returns 0.
	Wait(events []Event, msec int) (int, error)

	// Control adds, modifies or deletes the registration of fd. The token is
	// carried back verbatim on every event the registration produces.
	Control(op Op, fd int, token uint64, interest Interest, mode Mode) error

	// Close releases the poller. Registered descriptors are left open.
	Close() error
}

// New creates a Poller backed by the platform polling facility.
func New() (Poller, error) {
	return newPoller()
}
