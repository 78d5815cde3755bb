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

// LoopHandle is the sanctioned mutator of the loop's registration table.
// It may be copied freely and used re-entrantly from inside a running
// callback, the table tolerates mutation mid-batch. It must only be used
// from the loop goroutine, cross-goroutine interaction goes through
// LoopSignal or a source's own producer handle.
type LoopHandle struct {
	loop *EventLoop
}

// Insert registers source with the loop of handle and binds callback to
// it. The returned registration token addresses the source in later
// Remove, Enable, Disable and Update calls.
func Insert[E any](handle LoopHandle, source EventSource[E], callback Callback[E]) (RegistrationToken, error) {
	return handle.RegisterDispatcher(NewDispatcher[E](source, callback))
}

// RegisterDispatcher inserts an already bound dispatcher.
func (h LoopHandle) RegisterDispatcher(d Dispatcher) (RegistrationToken, error) {
	return h.loop.insert(d)
}

// Remove unregisters the source addressed by token, releasing its OS
// resources, and frees its table slot for reuse under a new generation.
// Removing an already removed registration is a no-op.
func (h LoopHandle) Remove(token RegistrationToken) error {
	return h.loop.remove(uint64(token.token))
}

// Enable rearms a disabled registration, re-creating the source's OS
// registration. Enabling an armed registration is a no-op.
func (h LoopHandle) Enable(token RegistrationToken) error {
	return h.loop.enable(uint64(token.token))
}

// Disable detaches the source addressed by token from the poller without
// freeing its slot, stopping delivery until Enable. Disabling a disabled
// registration is a no-op.
func (h LoopHandle) Disable(token RegistrationToken) error {
	return h.loop.disable(uint64(token.token))
}

// Update refreshes the OS registration of an armed source so interest or
// mode changes take effect. A disabled source picks its settings up when
// it is enabled.
func (h LoopHandle) Update(token RegistrationToken) error {
	return h.loop.update(uint64(token.token))
}

// InsertIdle queues fn to run once at the end of a dispatch iteration,
// after all readiness has been processed. Callbacks queued from inside a
// running iteration, whether by a source callback or by another idle
// callback, run at the end of the following iteration, never the current
// one.
func (h LoopHandle) InsertIdle(fn func(data any)) *Idle {
	return h.loop.insertIdle(fn)
}

// Idle is a queued idle callback.
type Idle struct {
	fn       func(data any)
	canceled bool
}

// Cancel drops the callback if it has not run yet.
func (i *Idle) Cancel() {
	i.canceled = true
}
