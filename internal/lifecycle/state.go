package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// State is the session lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Running
	Shutdown
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Running:
		return "Running"
	case Shutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrInvalidTransition is returned for a transition the table forbids.
var ErrInvalidTransition = errors.New("invalid state transition")

// forward lists the only non-shutdown transitions.
var forward = map[State]State{
	Disconnected: Connecting,
	Connecting:   Connected,
	Connected:    Running,
}

// Reader is the read-only view handed to collaborators.
type Reader interface {
	Current() State
}

// Machine is the single mutable SessionState.
type Machine struct {
	state atomic.Int32

	mu        sync.Mutex
	listeners []func(from, to State)
}

// Compile-time assertion that Machine implements Reader
var _ Reader = (*Machine)(nil)

// NewMachine returns a machine in Disconnected.
func NewMachine() *Machine {
	return &Machine{}
}

// Current returns the state without locking.
func (m *Machine) Current() State {
	return State(m.state.Load())
}

// OnTransition registers fn to run after every successful transition.
func (m *Machine) OnTransition(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Transition moves to next if the table allows it. Shutdown is
// reachable from every state and is terminal.
func (m *Machine) Transition(next State) error {
	m.mu.Lock()
	from := m.Current()
	if !allowed(from, next) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	m.state.Store(int32(next))
	listeners := append([]func(State, State){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(from, next)
	}
	return nil
}

// Shutdown moves to Shutdown. It reports false if already there.
func (m *Machine) Shutdown() bool {
	return m.Transition(Shutdown) == nil
}

func allowed(from, to State) bool {
	if from == Shutdown {
		return false
	}
	if to == Shutdown {
		return true
	}
	return forward[from] == to && to != Disconnected
}
