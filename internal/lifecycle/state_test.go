package lifecycle

import (
	"errors"
	"testing"
)

func TestHappyPath(t *testing.T) {
	m := NewMachine()
	if m.Current() != Disconnected {
		t.Fatalf("Expected initial state Disconnected, got %s", m.Current())
	}
	for _, next := range []State{Connecting, Connected, Running} {
		if err := m.Transition(next); err != nil {
			t.Fatalf("Expected transition to %s to succeed, got %v", next, err)
		}
	}
	if m.Current() != Running {
		t.Errorf("Expected Running, got %s", m.Current())
	}
}

func TestTransitionTable(t *testing.T) {
	all := []State{Disconnected, Connecting, Connected, Running, Shutdown}
	legal := map[[2]State]bool{
		{Disconnected, Connecting}: true,
		{Connecting, Connected}:    true,
		{Connected, Running}:       true,
		{Disconnected, Shutdown}:   true,
		{Connecting, Shutdown}:     true,
		{Connected, Shutdown}:      true,
		{Running, Shutdown}:        true,
	}

	for _, from := range all {
		for _, to := range all {
			if got, want := allowed(from, to), legal[[2]State{from, to}]; got != want {
				t.Errorf("Expected allowed(%s, %s) to be %v, got %v", from, to, want, got)
			}
		}
	}
}

func TestShutdownIsTerminal(t *testing.T) {
	m := NewMachine()
	if !m.Shutdown() {
		t.Fatal("Expected first Shutdown to succeed, got false")
	}
	if m.Shutdown() {
		t.Error("Expected second Shutdown to report false, got true")
	}
	for _, s := range []State{Disconnected, Connecting, Connected, Running} {
		if err := m.Transition(s); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Expected ErrInvalidTransition for Shutdown -> %s, got %v", s, err)
		}
	}
}

func TestSkippingStatesRejected(t *testing.T) {
	m := NewMachine()
	if err := m.Transition(Running); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for Disconnected -> Running, got %v", err)
	}
	if m.Current() != Disconnected {
		t.Errorf("Expected Disconnected after rejected transition, got %s", m.Current())
	}
}

func TestOnTransition(t *testing.T) {
	m := NewMachine()
	var seen []State
	m.OnTransition(func(_, to State) { seen = append(seen, to) })

	m.Transition(Connecting)
	m.Transition(Running)
	m.Shutdown()

	if len(seen) != 2 || seen[0] != Connecting || seen[1] != Shutdown {
		t.Errorf("Expected transitions [Connecting Shutdown], got %v", seen)
	}
}
