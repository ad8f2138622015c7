package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHappyPath(t *testing.T) {
	s, err := Next(StatusCreated, SignalStart)
	assert.NoError(t, err)
	assert.Equal(t, StatusRunning, s)

	s, err = Next(s, SignalExecutionSuccess)
	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, s)
}

func TestIllegalTransition(t *testing.T) {
	_, err := Next(StatusCreated, SignalExecutionSuccess)
	assert.Error(t, err)
}

func TestTerminalStatesHaveNoOutgoingTransitions(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		_, err := Next(terminal, SignalStart)
		assert.Error(t, err, "terminal state %s should reject non-identity signals", terminal)
	}
}

func TestIdentitySelfTransitionAlwaysAllowed(t *testing.T) {
	for _, s := range []Status{StatusCreated, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled, StatusSuspended, StatusWaiting, StatusRetrying, StatusCompensated} {
		next, err := Next(s, SignalIdentity)
		assert.NoError(t, err)
		assert.Equal(t, s, next)
	}
}

func TestSuspendResumeFlow(t *testing.T) {
	s, err := Next(StatusRunning, SignalSuspend)
	assert.NoError(t, err)
	assert.Equal(t, StatusSuspended, s)

	s, err = Next(s, SignalResume)
	assert.NoError(t, err)
	assert.Equal(t, StatusRunning, s)
}

func TestCompensationFlow(t *testing.T) {
	s, err := Next(StatusRunning, SignalCompensate)
	assert.NoError(t, err)
	assert.Equal(t, StatusCompensated, s)

	s, err = Next(s, SignalCompensationDone)
	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, s)
}

func TestRetryExhaustion(t *testing.T) {
	s, err := Next(StatusRunning, SignalPhaseFailure)
	assert.NoError(t, err)
	assert.Equal(t, StatusRetrying, s)

	s, err = Next(s, SignalRetryExhausted)
	assert.NoError(t, err)
	assert.Equal(t, StatusFailed, s)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusCompleted))
	assert.True(t, IsTerminal(StatusFailed))
	assert.True(t, IsTerminal(StatusCancelled))
	assert.False(t, IsTerminal(StatusRunning))
}
