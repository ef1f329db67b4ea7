package dap

import (
	"testing"

	"github.com/ctagard/dap-engine/internal/errors"
	"github.com/ctagard/dap-engine/pkg/types"
)

// TestStateMachineHappyPath walks the full lifecycle in order.
func TestStateMachineHappyPath(t *testing.T) {
	m := newStateMachine()

	steps := []types.SessionState{
		types.StateInitializing, types.StateInitialized,
		types.StateLaunching, types.StateStopped, types.StateRunning,
		types.StateStopped, types.StateRunning, types.StateTerminating,
		types.StateTerminated,
	}
	for _, next := range steps {
		if err := m.transition(next); err != nil {
			t.Fatalf("transition to %s from %s failed: %v", next, m.current(), err)
		}
	}
}

// TestStateMachineIllegalSteps verifies phase skipping is refused.
func TestStateMachineIllegalSteps(t *testing.T) {
	m := newStateMachine()

	for _, next := range []types.SessionState{
		types.StateRunning, types.StateStopped, types.StateLaunching,
	} {
		err := m.transition(next)
		if code := errors.CodeOf(err); code != errors.CodeState {
			t.Errorf("transition to %s from uninitialized: code = %s, want %s",
				next, code, errors.CodeState)
		}
	}
	if m.current() != types.StateUninitialized {
		t.Fatalf("state mutated by refused transition: %s", m.current())
	}
}

// TestStateMachineTerminatedIsFinal verifies nothing leaves Terminated.
func TestStateMachineTerminatedIsFinal(t *testing.T) {
	m := newStateMachine()
	m.forceTerminated()

	for _, next := range []types.SessionState{
		types.StateInitializing, types.StateRunning, types.StateStopped,
		types.StateTerminating,
	} {
		if err := m.transition(next); err == nil {
			t.Errorf("left Terminated for %s", next)
		}
	}
}

// TestStateMachineForceTerminatedAnywhere verifies stream death can
// force Terminated from any phase.
func TestStateMachineForceTerminatedAnywhere(t *testing.T) {
	m := newStateMachine()
	_ = m.transition(types.StateInitializing)
	_ = m.transition(types.StateInitialized)

	m.forceTerminated()
	if m.current() != types.StateTerminated {
		t.Fatalf("state = %s", m.current())
	}
}

// TestStateMachineRequireAndMove verifies the gate and the move are one
// atomic step: a second caller through the same gate is refused.
func TestStateMachineRequireAndMove(t *testing.T) {
	m := newStateMachine()

	if err := m.requireAndMove("initialize", types.StateInitializing, types.StateUninitialized); err != nil {
		t.Fatalf("first requireAndMove failed: %v", err)
	}
	err := m.requireAndMove("initialize", types.StateInitializing, types.StateUninitialized)
	if code := errors.CodeOf(err); code != errors.CodeState {
		t.Fatalf("second requireAndMove: code = %s, want %s", code, errors.CodeState)
	}
}
