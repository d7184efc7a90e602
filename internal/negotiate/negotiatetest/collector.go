// Package negotiatetest provides a scripted collector for exercising the
// registration handshake in tests and local tooling.
package negotiatetest

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/tobert/pmda-agent/internal/negotiate"
)

// Behavior selects how the collector answers a Hello.
type Behavior int

const (
	// Ack accepts the requested domain.
	Ack Behavior = iota
	// Reject refuses it with Code and Reason.
	Reject
	// Silent reads the Hello and never answers.
	Silent
	// Garbage answers with bytes that are not a valid frame.
	Garbage
	// HangUp closes the connection without answering.
	HangUp
)

// Collector is the collector side of one handshake.
type Collector struct {
	Behavior Behavior

	// Domain is sent in an Ack; zero echoes the requested number.
	Domain int
	// Name is sent in an Ack.
	Name string
	// Resolve maps requested names to numbers when the Hello has no number.
	Resolve map[string]int

	Code   negotiate.RejectCode
	Reason string

	mu          sync.Mutex
	hellos      []negotiate.Hello
	agentClosed bool
}

// Hellos returns every Hello received so far.
func (c *Collector) Hellos() []negotiate.Hello {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]negotiate.Hello(nil), c.hellos...)
}

// AgentClosed reports whether the agent closed its end while the collector
// was waiting on it.
func (c *Collector) AgentClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentClosed
}

// Serve answers one Hello on rw. In Silent mode it then reads until the
// agent closes the connection.
func (c *Collector) Serve(rw io.ReadWriter) error {
	h, err := negotiate.ReadHello(rw)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.hellos = append(c.hellos, h)
	c.mu.Unlock()

	switch c.Behavior {
	case Ack:
		domain := c.Domain
		if domain == 0 {
			domain = h.Domain
		}
		if domain == 0 && !h.HasDomain {
			if n, ok := c.Resolve[h.Name]; ok {
				domain = n
			} else {
				return negotiate.WriteReply(rw, negotiate.Reply{Type: negotiate.MsgReject,
					Code: negotiate.DomainUnresolved, Reason: "unknown domain name " + h.Name})
			}
		}
		return negotiate.WriteReply(rw, negotiate.Reply{Type: negotiate.MsgAck, Domain: domain, Name: c.Name})
	case Reject:
		return negotiate.WriteReply(rw, negotiate.Reply{Type: negotiate.MsgReject, Code: c.Code, Reason: c.Reason})
	case Garbage:
		_, err := rw.Write([]byte{0x05, 0xff, 0xff, 0xff, 0xff, 0xff})
		return err
	case HangUp:
		if cl, ok := rw.(io.Closer); ok {
			return cl.Close()
		}
		return nil
	default:
		if _, err := io.Copy(io.Discard, rw); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		c.mu.Lock()
		c.agentClosed = true
		c.mu.Unlock()
		return nil
	}
}

// Attach dials the agent's listener at addr and serves one handshake in the
// background. The returned channel yields Serve's result.
func (c *Collector) Attach(ctx context.Context, addr net.Addr) <-chan error {
	done := make(chan error, 1)
	go func() {
		var d net.Dialer
		conn, err := d.DialContext(ctx, addr.Network(), addr.String())
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		done <- c.Serve(conn)
	}()
	return done
}
