package status

import (
	"testing"
	"time"

	"github.com/matheus3301/smsdesk/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine("optimistic-1", nil)
	if m.Current() != Composing {
		t.Errorf("initial state = %s, want COMPOSING", m.Current())
	}
	if m.Settled() {
		t.Error("new machine reported settled")
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []State
	}{
		{"send ok", []State{Pending, Sent}},
		{"send failed", []State{Pending, Failed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine("optimistic-1", nil)
			for _, s := range tt.path {
				if err := m.Transition(s); err != nil {
					t.Fatalf("Transition(%s) error = %v", s, err)
				}
			}
			if !m.Settled() {
				t.Errorf("state %s should be settled", m.Current())
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		walk []State
		to   State
	}{
		{"skip pending", nil, Sent},
		{"retry after failure", []State{Pending, Failed}, Pending},
		{"sent then failed", []State{Pending, Sent}, Failed},
		{"back to composing", []State{Pending}, Composing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine("optimistic-1", nil)
			for _, s := range tt.walk {
				if err := m.Transition(s); err != nil {
					t.Fatal(err)
				}
			}
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", m.Current(), tt.to)
			}
		})
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("outbound.", 10)
	defer unsub()

	m := NewMachine("optimistic-1", b)
	if err := m.Transition(Pending); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(Change)
		if !ok {
			t.Fatalf("payload type = %T, want Change", evt.Payload)
		}
		if change.ID != "optimistic-1" || change.From != Composing || change.To != Pending {
			t.Errorf("change = %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}
