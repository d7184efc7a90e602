// Package negotiate registers a PMDA's domain with the metrics collector.
//
// Negotiate opens the selected transport, sends a Hello naming the domain,
// and waits a bounded time for the collector to acknowledge or reject it.
// Only an acknowledged domain yields a Session; on every other outcome the
// transport is closed before Negotiate returns.
package negotiate

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tobert/pmda-agent/internal/options"
	"github.com/tobert/pmda-agent/internal/transport"
)

// DefaultTimeout bounds the wait for the collector's reply.
const DefaultTimeout = 5 * time.Second

// Opener acquires the OS resource behind a transport request.
type Opener interface {
	Open(ctx context.Context, req transport.Request) (transport.Conn, error)
}

// Identity is the domain an agent asks for: a number, a name for the
// collector to resolve, or both.
type Identity struct {
	Number *int
	Name   string
}

func (id Identity) String() string {
	switch {
	case id.Number != nil && id.Name != "":
		return fmt.Sprintf("%d (%s)", *id.Number, id.Name)
	case id.Number != nil:
		return strconv.Itoa(*id.Number)
	case id.Name != "":
		return id.Name
	default:
		return "<none>"
	}
}

// IdentityFrom derives the requested domain from a parsed command line,
// falling back to the agent's built-in domain when --domain was absent.
func IdentityFrom(cfg *options.AgentConfig, defaultDomain int) Identity {
	if cfg != nil && cfg.HasDomain() {
		if cfg.DomainNumber != nil {
			n := *cfg.DomainNumber
			return Identity{Number: &n}
		}
		return Identity{Name: cfg.DomainName}
	}
	if defaultDomain > 0 {
		return Identity{Number: &defaultDomain}
	}
	return Identity{}
}

// Negotiator performs first-time domain registration.
type Negotiator struct {
	Opener    Opener
	Timeout   time.Duration
	AgentName string
	Logger    *zap.Logger

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
}

// Negotiate runs the handshake for id over req.
func (n *Negotiator) Negotiate(ctx context.Context, id Identity, req transport.Request) (sess *Session, err error) {
	log := n.logger().With(zap.Stringer("transport", req), zap.Stringer("domain", id))
	m := &machine{state: StateIdle, observe: func(from, to State) {
		log.Debug("negotiation state", zap.String("from", string(from)), zap.String("to", string(to)))
		if n.OnTransition != nil {
			n.OnTransition(from, to)
		}
	}}

	fail := func(kind ErrorKind, state State, cause error) error {
		_ = m.to(state)
		return &NegotiationError{Kind: kind, State: state, Resource: req.String(), Identity: id.String(), Err: cause}
	}

	if id.Number == nil && id.Name == "" {
		return nil, &NegotiationError{Kind: DomainRejected, State: StateIdle, Resource: req.String(),
			Identity: id.String(), Reason: "no domain configured"}
	}

	_ = m.to(StateTransportOpening)
	conn, err := n.opener().Open(ctx, req)
	if err != nil {
		log.Warn("failed to open transport", zap.Error(err))
		return nil, fail(TransportError, StateFailed, err)
	}
	defer func() {
		if sess == nil {
			if cerr := conn.Close(); cerr != nil {
				log.Debug("closing transport after failed negotiation", zap.Error(cerr))
			}
		}
	}()

	timeout := n.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	deadline, _ := hctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		log.Warn("transport ignores deadlines, reply wait may not be bounded", zap.Error(err))
	}
	// Cancellation of ctx must also wake a blocked read or write.
	stop := context.AfterFunc(hctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	hello := Hello{Version: InterfaceVersion, Name: id.Name, Agent: n.AgentName, PID: os.Getpid()}
	if id.Number != nil {
		hello.Domain, hello.HasDomain = *id.Number, true
	}
	if err := WriteHello(conn, hello); err != nil {
		if hctx.Err() != nil {
			return nil, fail(NegotiationTimeout, StateFailed, withContext(err, ctx))
		}
		return nil, fail(TransportError, StateFailed, err)
	}
	_ = m.to(StateHandshakeSent)

	rep, err := ReadReply(conn)
	if err != nil {
		log.Warn("no usable reply from collector", zap.Duration("timeout", timeout), zap.Error(err))
		return nil, fail(NegotiationTimeout, StateFailed, withContext(err, ctx))
	}

	if rep.Type == MsgReject || (id.Number != nil && rep.Domain != *id.Number) {
		_ = m.to(StateRejected)
		ne := &NegotiationError{Kind: DomainRejected, State: StateRejected, Resource: req.String(),
			Identity: id.String(), Code: rep.Code, Reason: rep.Reason}
		if rep.Type == MsgAck {
			ne.Reason = fmt.Sprintf("collector acknowledged domain %d instead", rep.Domain)
		}
		log.Warn("collector rejected domain", zap.Stringer("code", ne.Code), zap.String("reason", ne.Reason))
		return nil, ne
	}

	stop()
	if err := conn.SetDeadline(time.Time{}); err != nil {
		log.Debug("clearing transport deadline", zap.Error(err))
	}
	_ = m.to(StateEstablished)

	name := rep.Name
	if name == "" {
		name = id.Name
	}
	if name == "" {
		name = n.AgentName
	}
	sess = &Session{Domain: rep.Domain, Name: name, Transport: req, conn: conn}
	log.Info("domain registered", zap.Int("domain_number", sess.Domain), zap.String("name", sess.Name))
	return sess, nil
}

func (n *Negotiator) logger() *zap.Logger {
	if n.Logger == nil {
		return zap.NewNop()
	}
	return n.Logger
}

func (n *Negotiator) opener() Opener {
	if n.Opener == nil {
		return &transport.Opener{}
	}
	return n.Opener
}

// withContext notes a caller cancellation next to the I/O error it caused.
func withContext(err error, ctx context.Context) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%w)", err, ctxErr)
	}
	return err
}
