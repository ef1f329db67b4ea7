package dap

import (
	"sync"

	"github.com/ctagard/dap-engine/internal/errors"
	"github.com/ctagard/dap-engine/pkg/types"
)

// stateMachine gates which operations are legal in each session phase
// and validates transitions. All checks and transitions happen under
// one mutex so that a gate check and the transition it guards are
// atomic with respect to concurrent callers and the event observer.
type stateMachine struct {
	mu    sync.RWMutex
	state types.SessionState
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: types.StateUninitialized}
}

// current returns the state at this instant.
func (m *stateMachine) current() types.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// legalNext lists the states reachable from each state. Terminated is
// reachable from everywhere (stream death forces it) and is therefore
// not listed per-state.
var legalNext = map[types.SessionState][]types.SessionState{
	types.StateUninitialized: {types.StateInitializing},
	types.StateInitializing:  {types.StateInitialized},
	types.StateInitialized:   {types.StateLaunching},
	types.StateLaunching:     {types.StateRunning, types.StateStopped},
	types.StateRunning:       {types.StateStopped},
	types.StateStopped:       {types.StateRunning},
	types.StateTerminating:   {},
	types.StateTerminated:    {},
}

// transition moves to next if the step is legal. Moves into
// Terminating/Terminated are always allowed from non-terminal states.
func (m *stateMachine) transition(next types.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(next)
}

func (m *stateMachine) transitionLocked(next types.SessionState) error {
	if m.state == next {
		return nil
	}
	if m.state == types.StateTerminated {
		return errors.State("transition to "+string(next), string(m.state))
	}
	if next == types.StateTerminated || next == types.StateTerminating {
		m.state = next
		return nil
	}
	for _, cand := range legalNext[m.state] {
		if cand == next {
			m.state = next
			return nil
		}
	}
	return errors.State("transition to "+string(next), string(m.state))
}

// require fails with a StateError unless the current state is one of
// the listed phases.
func (m *stateMachine) require(op string, allowed ...types.SessionState) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range allowed {
		if m.state == s {
			return nil
		}
	}
	return errors.State(op, string(m.state))
}

// requireAndMove atomically checks the gate and performs the
// transition, so two concurrent callers cannot both pass the same gate.
func (m *stateMachine) requireAndMove(op string, next types.SessionState, allowed ...types.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range allowed {
		if m.state == s {
			return m.transitionLocked(next)
		}
	}
	return errors.State(op, string(m.state))
}

// forceTerminated drives the machine to Terminated from any state.
// Used on stream death and at the end of deliberate teardown.
func (m *stateMachine) forceTerminated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = types.StateTerminated
}
