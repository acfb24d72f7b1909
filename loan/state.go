// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loan

// State is the lifecycle state of a loaned message.
type State int

const (
	// StateActive means the message owns an outstanding loan.
	StateActive State = iota
	// StateTransferred means the loan was published and belongs to the middleware.
	StateTransferred
	// StateReleased is terminal: disposal has run.
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateTransferred:
		return "transferred"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}
