package upload

import (
	"fmt"
	"sync"
)

// State is a step of the upload lifecycle.
type State string

// Upload states
const (
	StateIdle             State = "idle"
	StateSessionResolving State = "session_resolving"
	StateUploading        State = "uploading"
	StateChunkUploading   State = "chunk_uploading"
	StatePaused           State = "paused"
	StateFinalizing       State = "finalizing"
	StateCompleted        State = "completed"
	StateCancelled        State = "cancelled"
	StateFailed           State = "failed"
)

var transitions = map[State][]State{
	StateIdle:             {StateSessionResolving, StateUploading, StateFinalizing, StateCancelled, StateFailed},
	StateSessionResolving: {StateChunkUploading, StateFinalizing, StateCancelled, StateFailed},
	StateChunkUploading:   {StatePaused, StateFinalizing, StateCancelled, StateFailed},
	StatePaused:           {StateChunkUploading, StateCancelled, StateFailed},
	StateUploading:        {StateCompleted, StateCancelled, StateFailed},
	StateFinalizing:       {StateCompleted, StateCancelled, StateFailed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type stateMachine struct {
	mu       sync.Mutex
	state    State
	onChange func(from, to State)
}

func newStateMachine(onChange func(from, to State)) *stateMachine {
	return &stateMachine{state: StateIdle, onChange: onChange}
}

func (m *stateMachine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *stateMachine) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if !canTransition(from, to) {
		return fmt.Errorf("invalid upload state transition %s -> %s", from, to)
	}
	m.state = to
	if m.onChange != nil {
		m.onChange(from, to)
	}
	return nil
}
