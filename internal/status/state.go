package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/smsdesk/internal/bus"
)

// State is the lifecycle state of one outbound message.
type State string

const (
	Composing State = "COMPOSING"
	Pending   State = "PENDING"
	Sent      State = "SENT"
	Failed    State = "FAILED"
)

// There is no edge out of Failed: a failed send is rolled back and the user
// resubmits, which starts a new machine.
var validTransitions = map[State][]State{
	Composing: {Pending},
	Pending:   {Sent, Failed},
	Sent:      {},
	Failed:    {},
}

// Machine tracks the state of a single outbound message, keyed by its
// transient id.
type Machine struct {
	mu      sync.RWMutex
	id      string
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine in Composing for the message id.
func NewMachine(id string, b *bus.Bus) *Machine {
	return &Machine{
		id:      id,
		current: Composing,
		bus:     b,
	}
}

// ID returns the transient id this machine tracks.
func (m *Machine) ID() string { return m.id }

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Settled reports whether the message reached a terminal state.
func (m *Machine) Settled() bool {
	s := m.Current()
	return s == Sent || s == Failed
}

// Transition moves to a new state or returns an error if the edge is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("message %s: invalid transition from %s to %s", m.id, m.current, to)
	}
	from := m.current
	m.current = to

	if m.bus != nil {
		m.bus.Emit(bus.KindOutboundStatus, Change{ID: m.id, From: from, To: to})
	}
	return nil
}

// Change is the payload for outbound status events.
type Change struct {
	ID   string
	From State
	To   State
}
