// Package statemachine enforces the legal transitions of an in-flight
// request. It holds no request state itself — ExecutionContext (see
// package orchestrator) owns the current Status; this package is the pure
// transition table consulted on every signal.
package statemachine

import "github.com/itsneelabh/gateway/core"

// Status is one of the canonical execution states a request moves
// through.
type Status string

const (
	StatusCreated     Status = "CREATED"
	StatusRunning     Status = "RUNNING"
	StatusWaiting     Status = "WAITING"
	StatusSuspended   Status = "SUSPENDED"
	StatusRetrying    Status = "RETRYING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusCancelled   Status = "CANCELLED"
	StatusCompensated Status = "COMPENSATED"
)

// Signal is an event that drives a state transition.
type Signal string

const (
	SignalStart              Signal = "START"
	SignalCancel             Signal = "CANCEL"
	SignalWaitRequested       Signal = "WAIT_REQUESTED"
	SignalPhaseFailure        Signal = "PHASE_FAILURE"
	SignalExecutionFailure    Signal = "EXECUTION_FAILURE"
	SignalExecutionSuccess    Signal = "EXECUTION_SUCCESS"
	SignalTerminalFailure     Signal = "TERMINAL_FAILURE"
	SignalSuspend             Signal = "SUSPEND"
	SignalCompensate          Signal = "COMPENSATE"
	SignalApproved            Signal = "APPROVED"
	SignalResume              Signal = "RESUME"
	SignalRejected            Signal = "REJECTED"
	SignalRetryExhausted      Signal = "RETRY_EXHAUSTED"
	SignalCompensationDone    Signal = "COMPENSATION_DONE"
	// SignalIdentity is the universal self-transition, always legal from
	// any state including terminal ones.
	SignalIdentity Signal = "IDENTITY"
)

var terminal = map[Status]bool{
	StatusCompleted: true,
	StatusFailed:    true,
	StatusCancelled: true,
}

// IsTerminal reports whether s has no outgoing transitions other than the
// identity self-transition.
func IsTerminal(s Status) bool {
	return terminal[s]
}

// transitions[state][signal] = next state. Built once; never mutated, so
// concurrent reads from multiple requests need no lock.
var transitions = map[Status]map[Signal]Status{
	StatusCreated: {
		SignalStart:  StatusRunning,
		SignalCancel: StatusCancelled,
	},
	StatusRunning: {
		SignalWaitRequested:    StatusWaiting,
		SignalPhaseFailure:     StatusRetrying,
		SignalExecutionFailure: StatusRetrying,
		SignalExecutionSuccess: StatusCompleted,
		SignalTerminalFailure:  StatusFailed,
		SignalSuspend:          StatusSuspended,
		SignalCancel:           StatusCancelled,
		SignalCompensate:       StatusCompensated,
	},
	StatusWaiting: {
		SignalApproved: StatusRunning,
		SignalResume:   StatusRunning,
		SignalRejected: StatusFailed,
		SignalCancel:   StatusCancelled,
	},
	StatusSuspended: {
		SignalResume: StatusRunning,
		SignalCancel: StatusCancelled,
	},
	StatusRetrying: {
		SignalStart:         StatusRunning,
		SignalRetryExhausted: StatusFailed,
		SignalCancel:        StatusCancelled,
	},
	StatusCompensated: {
		SignalCompensationDone: StatusCompleted,
	},
}

// Next returns the state that signal drives current into, or an
// IllegalStateTransition GatewayError if no such transition exists.
// Terminal states accept only the identity signal, which is always a
// legal self-transition from any state.
func Next(current Status, signal Signal) (Status, error) {
	if signal == SignalIdentity {
		return current, nil
	}
	if IsTerminal(current) {
		return current, illegal(current, signal)
	}
	next, ok := transitions[current][signal]
	if !ok {
		return current, illegal(current, signal)
	}
	return next, nil
}

func illegal(current Status, signal Signal) error {
	return &core.GatewayError{
		Op:      "statemachine.Next",
		Kind:    core.KindIllegalStateTransition,
		Message: "no transition for signal " + string(signal) + " from state " + string(current),
		Err:     core.ErrIllegalStateTransition,
	}
}
