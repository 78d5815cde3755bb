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

// Package tloop provides an embeddable, single-threaded event loop that
// multiplexes heterogeneous readiness-based event sources, such as
// descriptors, timers, OS signals and cross-goroutine channels, through one
// polling primitive and one dispatch algorithm.
package tloop

import (
	"fmt"

	"trpc.group/trpc-go/tloop/internal/registry"
)

// Token identifies one live registration in the loop's table and is the
// dispatch key shared with the poller. It packs a slot index and a
// generation counter, so a token kept around after its registration was
// removed turns stale instead of silently addressing whatever reuses the
// slot. The zero Token is never issued.
type Token uint64

// String implements fmt.Stringer.
func (t Token) String() string {
	return fmt.Sprintf("token(slot=%d,gen=%d)", registry.Slot(uint64(t)), registry.Generation(uint64(t)))
}

// RegistrationToken is returned by Insert and addresses the registration in
// later Remove, Enable, Disable and Update calls.
type RegistrationToken struct {
	token Token
}

// Token returns the dispatch token of the registration.
func (r RegistrationToken) Token() Token {
	return r.token
}

// Interest is the requested readiness condition set of a registration.
type Interest uint8

// Registrable interests.
const (
	// Readable watches for readable condition.
	Readable Interest = 1 << iota
	// Writable watches for writable condition.
	Writable
	// ReadWritable watches for both readable and writable conditions.
	ReadWritable = Readable | Writable
)

// String implements fmt.Stringer.
func (i Interest) String() string {
	switch i {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case ReadWritable:
		return "readwritable"
	default:
		return "none"
	}
}

// Mode controls how often a held condition re-notifies.
type Mode uint8

const (
	// Level re-reports a condition on every poll for as long as it holds.
	Level Mode = iota
	// Edge reports a condition only when it flips from not ready to ready.
	// The source must then drain completely, the loop will not call it
	// again for leftovers within the same readiness.
	Edge
	// OneShot reports a condition once, after which the OS registration
	// stays dormant until refreshed through Update or PostReregister.
	OneShot
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case Level:
		return "level"
	case Edge:
		return "edge"
	case OneShot:
		return "oneshot"
	default:
		return "unknown"
	}
}

// Readiness is the observed condition set delivered for a Token. It is a
// subset of the registered interest plus an error flag. Sources dispatched
// for an expired deadline receive a zero Readiness.
type Readiness struct {
	// Readable reports that reading will not block.
	Readable bool
	// Writable reports that writing will not block.
	Writable bool
	// Error reports an error condition on the descriptor.
	Error bool
}
