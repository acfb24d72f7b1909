// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package loan implements zero-copy publishing with middleware-owned buffers.
//
// A Publisher lends a Message whose storage belongs to the middleware. The
// caller writes into it through Mut and then either publishes it, which moves
// ownership to the middleware, or releases it, which returns the buffer
// unused:
//
//	msg, err := pub.Borrow()
//	if err != nil {
//		return err
//	}
//	defer msg.Release()
//
//	msg.Mut().Value = 42
//	return msg.Publish()
//
// Release is the disposal step. It runs at most once and is a no-op after a
// successful Publish. A failed Publish returns the loan before reporting the
// error. If the middleware refuses a returned loan the Publisher's fatal
// handler runs, which panics unless configured otherwise.
//
// Message types must have a fixed layout: no pointers, slices, maps, strings,
// interfaces, channels or funcs anywhere in the type.
package loan
