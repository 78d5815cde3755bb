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

package tloop

import (
	"github.com/pkg/errors"

	"trpc.group/trpc-go/tloop/internal/registry"
)

var (
	// ErrStaleToken reports a token whose registration has been removed.
	// The slot may since have been reused under a newer generation.
	ErrStaleToken = registry.ErrStale
	// ErrUnknownToken reports a token the loop never issued.
	ErrUnknownToken = registry.ErrUnknown
	// ErrRegistryFull reports that the registration limit set through
	// WithMaxRegistrations has been reached.
	ErrRegistryFull = registry.ErrFull
	// ErrLoopClosed reports an operation on a closed loop.
	ErrLoopClosed = errors.New("event loop is closed")
	// ErrDispatchBusy reports a Run, Dispatch or Close call while another
	// dispatch is already executing, including calls made from inside a
	// running callback.
	ErrDispatchBusy = errors.New("event loop dispatch is running")
)
