package speech

import (
	"fmt"
	"sync"
)

// StateType represents the current state of a voice session.
type StateType int

const (
	// StateIdle indicates no interaction is in progress.
	StateIdle StateType = iota
	// StateListening indicates the user's clip is being captured.
	StateListening
	// StateProcessing indicates a clip was submitted and the response
	// stream is in flight.
	StateProcessing
	// StateSpeaking indicates response audio is playing.
	StateSpeaking
)

// String returns the string representation of the state.
func (s StateType) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// StateMachine validates session state transitions.
type StateMachine struct {
	mu          sync.Mutex
	current     StateType
	transitions map[StateType][]StateType
}

// NewStateMachine creates a state machine starting at StateIdle.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateIdle,
		transitions: map[StateType][]StateType{
			StateIdle:       {StateListening, StateProcessing},
			StateListening:  {StateProcessing, StateIdle},
			StateProcessing: {StateSpeaking, StateIdle},
			StateSpeaking:   {StateIdle, StateListening, StateProcessing},
		},
	}
}

// Current returns the current state.
func (m *StateMachine) Current() StateType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition moves to the target state if the move is valid.
func (m *StateMachine) Transition(to StateType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	for _, allowed := range m.transitions[m.current] {
		if allowed == to {
			m.current = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrStateTransition, m.current, to)
}

// ForceIdle returns to StateIdle unconditionally. Reset paths use this
// so a session never gets stuck in a transient state.
func (m *StateMachine) ForceIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = StateIdle
}
