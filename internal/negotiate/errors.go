package negotiate

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a NegotiationError.
type ErrorKind int

const (
	TransportError ErrorKind = iota + 1
	NegotiationTimeout
	DomainRejected
)

func (k ErrorKind) String() string {
	switch k {
	case TransportError:
		return "transport error"
	case NegotiationTimeout:
		return "negotiation timeout"
	case DomainRejected:
		return "domain rejected"
	default:
		return "negotiation error"
	}
}

// NegotiationError is returned by Negotiate for every failed handshake.
// State is the terminal state the negotiation ended in.
type NegotiationError struct {
	Kind     ErrorKind
	State    State
	Resource string // transport, e.g. "unix:/run/pcp/counter.socket"
	Identity string // requested domain
	Code     RejectCode
	Reason   string
	Err      error
}

func (e *NegotiationError) Error() string {
	switch e.Kind {
	case TransportError:
		return fmt.Sprintf("transport %s: %v", e.Resource, e.Err)
	case NegotiationTimeout:
		return fmt.Sprintf("no valid reply from collector on %s: %v", e.Resource, e.Err)
	case DomainRejected:
		msg := fmt.Sprintf("domain %s rejected: %s", e.Identity, e.Code)
		if e.Reason != "" {
			msg += " (" + e.Reason + ")"
		}
		return msg
	default:
		return fmt.Sprintf("negotiation on %s failed: %v", e.Resource, e.Err)
	}
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// IsNegotiationError reports whether err is a NegotiationError of kind.
func IsNegotiationError(err error, kind ErrorKind) bool {
	var ne *NegotiationError
	if errors.As(err, &ne) {
		return ne.Kind == kind
	}
	return false
}
