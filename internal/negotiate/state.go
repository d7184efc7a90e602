package negotiate

import (
	"errors"
)

// State is a step of the registration handshake. The allowed edges are:
//
//	idle              -> transport-opening
//	transport-opening -> handshake-sent | failed
//	handshake-sent    -> established | rejected | failed
//
// established, rejected and failed are terminal.
type State string

const (
	StateIdle             State = "idle"
	StateTransportOpening State = "transport-opening"
	StateHandshakeSent    State = "handshake-sent"
	StateEstablished      State = "established"
	StateFailed           State = "failed"
	StateRejected         State = "rejected"
)

// ErrInvalidTransition is returned when a negotiation tries an edge that
// is not part of the state machine.
var ErrInvalidTransition = errors.New("invalid negotiation state transition")

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateEstablished || s == StateFailed || s == StateRejected
}

func allowedTransition(cur, next State) bool {
	switch cur {
	case StateIdle:
		return next == StateTransportOpening
	case StateTransportOpening:
		return next == StateHandshakeSent || next == StateFailed
	case StateHandshakeSent:
		return next == StateEstablished || next == StateRejected || next == StateFailed
	default:
		return false
	}
}

// machine tracks one negotiation and reports each edge to observe.
type machine struct {
	state   State
	observe func(from, to State)
}

func (m *machine) to(next State) error {
	if !allowedTransition(m.state, next) {
		return ErrInvalidTransition
	}
	prev := m.state
	m.state = next
	if m.observe != nil {
		m.observe(prev, next)
	}
	return nil
}
