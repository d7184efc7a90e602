package negotiate_test

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tobert/pmda-agent/internal/negotiate"
	"github.com/tobert/pmda-agent/internal/negotiate/negotiatetest"
	"github.com/tobert/pmda-agent/internal/options"
	"github.com/tobert/pmda-agent/internal/transport"
)

// harness wires a Negotiator to a scripted collector over a UNIX socket.
type harness struct {
	negotiator  *negotiate.Negotiator
	collector   *negotiatetest.Collector
	path        string
	mu          sync.Mutex
	transitions [][2]negotiate.State
	done        <-chan error
}

func newHarness(t *testing.T, collector *negotiatetest.Collector, timeout time.Duration) *harness {
	t.Helper()
	h := &harness{
		collector: collector,
		path:      filepath.Join(t.TempDir(), "a.sock"),
	}
	h.negotiator = &negotiate.Negotiator{
		Opener: &transport.Opener{
			AcceptTimeout: 2 * time.Second,
			OnListen: func(addr net.Addr) {
				h.done = collector.Attach(context.Background(), addr)
			},
		},
		Timeout:   timeout,
		AgentName: "counter",
		Logger:    zaptest.NewLogger(t),
		OnTransition: func(from, to negotiate.State) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.transitions = append(h.transitions, [2]negotiate.State{from, to})
		},
	}
	return h
}

func (h *harness) request() transport.Request {
	return transport.Request{Kind: options.TransportUnix, Path: h.path}
}

func (h *harness) states() []negotiate.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []negotiate.State
	for _, tr := range h.transitions {
		out = append(out, tr[1])
	}
	return out
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("collector did not finish")
		return nil
	}
}

func number(n int) *int { return &n }

func TestNegotiateScenarioDomain60(t *testing.T) {
	cfg, err := options.Parse([]string{"--domain=60", "--unix=placeholder"}, options.DefaultCatalog())
	require.NoError(t, err)
	assert.Equal(t, "60", cfg.DomainName)

	h := newHarness(t, &negotiatetest.Collector{Behavior: negotiatetest.Ack}, time.Second)
	cfg.UnixPath = h.path

	req, err := transport.Select(cfg, transport.HostPlatform(), transport.Defaults{})
	require.NoError(t, err)
	assert.Equal(t, h.request(), req)

	sess, err := h.negotiator.Negotiate(context.Background(), negotiate.IdentityFrom(cfg, 450), req)
	require.NoError(t, err)
	defer sess.Close()

	assert.Equal(t, 60, sess.Domain)
	assert.Equal(t, req, sess.Transport)
	assert.Equal(t, "counter", sess.Name)
	assert.NotNil(t, sess.Conn())
	assert.Equal(t, []negotiate.State{
		negotiate.StateTransportOpening, negotiate.StateHandshakeSent, negotiate.StateEstablished,
	}, h.states())

	require.NoError(t, h.wait(t))
	hellos := h.collector.Hellos()
	require.Len(t, hellos, 1)
	assert.True(t, hellos[0].HasDomain)
	assert.Equal(t, 60, hellos[0].Domain)
	assert.Equal(t, "counter", hellos[0].Agent)
	assert.Equal(t, uint64(negotiate.InterfaceVersion), hellos[0].Version)
	assert.Equal(t, os.Getpid(), hellos[0].PID)

	require.NoError(t, sess.Close())
	assert.NoError(t, sess.Close())
}

func TestNegotiateSilentCollectorTimesOut(t *testing.T) {
	h := newHarness(t, &negotiatetest.Collector{Behavior: negotiatetest.Silent}, 100*time.Millisecond)

	start := time.Now()
	sess, err := h.negotiator.Negotiate(context.Background(), negotiate.Identity{Number: number(60)}, h.request())
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.Less(t, time.Since(start), 2*time.Second)

	var ne *negotiate.NegotiationError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, negotiate.NegotiationTimeout, ne.Kind)
	assert.Equal(t, negotiate.StateFailed, ne.State)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)

	// The collector sees EOF only if the agent released its socket.
	require.NoError(t, h.wait(t))
	assert.True(t, h.collector.AgentClosed())

	_, statErr := os.Lstat(h.path)
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, []negotiate.State{
		negotiate.StateTransportOpening, negotiate.StateHandshakeSent, negotiate.StateFailed,
	}, h.states())
}

func TestNegotiateBadReplies(t *testing.T) {
	tests := []struct {
		name     string
		behavior negotiatetest.Behavior
		target   error
	}{
		{"garbage", negotiatetest.Garbage, negotiate.ErrMalformed},
		{"hang up", negotiatetest.HangUp, io.EOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &negotiatetest.Collector{Behavior: tt.behavior}, time.Second)
			_, err := h.negotiator.Negotiate(context.Background(), negotiate.Identity{Number: number(60)}, h.request())
			require.Error(t, err)
			assert.True(t, negotiate.IsNegotiationError(err, negotiate.NegotiationTimeout))
			assert.ErrorIs(t, err, tt.target)
			h.wait(t)
		})
	}
}

func TestNegotiateRejected(t *testing.T) {
	h := newHarness(t, &negotiatetest.Collector{
		Behavior: negotiatetest.Reject,
		Code:     negotiate.DomainClaimed,
		Reason:   "domain 60 belongs to pmdalinux",
	}, time.Second)

	_, err := h.negotiator.Negotiate(context.Background(), negotiate.Identity{Number: number(60)}, h.request())
	require.Error(t, err)

	var ne *negotiate.NegotiationError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, negotiate.DomainRejected, ne.Kind)
	assert.Equal(t, negotiate.StateRejected, ne.State)
	assert.Equal(t, negotiate.DomainClaimed, ne.Code)
	assert.EqualError(t, err, "domain 60 rejected: domain already claimed (domain 60 belongs to pmdalinux)")
	assert.Equal(t, negotiate.StateRejected, h.states()[len(h.states())-1])
	require.NoError(t, h.wait(t))
}

func TestNegotiateAckForOtherDomain(t *testing.T) {
	h := newHarness(t, &negotiatetest.Collector{Behavior: negotiatetest.Ack, Domain: 61}, time.Second)

	_, err := h.negotiator.Negotiate(context.Background(), negotiate.Identity{Number: number(60)}, h.request())
	require.Error(t, err)
	assert.True(t, negotiate.IsNegotiationError(err, negotiate.DomainRejected))
	assert.Contains(t, err.Error(), "acknowledged domain 61")
	h.wait(t)
}

func TestNegotiateByName(t *testing.T) {
	collector := &negotiatetest.Collector{Behavior: negotiatetest.Ack, Resolve: map[string]int{"counter": 450}}
	h := newHarness(t, collector, time.Second)

	sess, err := h.negotiator.Negotiate(context.Background(), negotiate.Identity{Name: "counter"}, h.request())
	require.NoError(t, err)
	defer sess.Close()
	assert.Equal(t, 450, sess.Domain)
	assert.Equal(t, "counter", sess.Name)

	require.NoError(t, h.wait(t))
	assert.False(t, collector.Hellos()[0].HasDomain)
	assert.Equal(t, "counter", collector.Hellos()[0].Name)
}

func TestNegotiateUnresolvableName(t *testing.T) {
	h := newHarness(t, &negotiatetest.Collector{Behavior: negotiatetest.Ack}, time.Second)

	_, err := h.negotiator.Negotiate(context.Background(), negotiate.Identity{Name: "nosuch"}, h.request())
	var ne *negotiate.NegotiationError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, negotiate.DomainRejected, ne.Kind)
	assert.Equal(t, negotiate.DomainUnresolved, ne.Code)
	h.wait(t)
}

func TestNegotiateTransportFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "busy")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	var states []negotiate.State
	n := &negotiate.Negotiator{
		Opener:       &transport.Opener{AcceptTimeout: time.Second},
		Logger:       zaptest.NewLogger(t),
		OnTransition: func(_, to negotiate.State) { states = append(states, to) },
	}

	_, err := n.Negotiate(context.Background(), negotiate.Identity{Number: number(60)},
		transport.Request{Kind: options.TransportUnix, Path: path})
	require.Error(t, err)

	var ne *negotiate.NegotiationError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, negotiate.TransportError, ne.Kind)
	assert.ErrorIs(t, err, transport.ErrAddressInUse)
	assert.Equal(t, []negotiate.State{negotiate.StateTransportOpening, negotiate.StateFailed}, states)
}

// countingOpener records whether Open was reached.
type countingOpener struct{ calls int }

func (c *countingOpener) Open(context.Context, transport.Request) (transport.Conn, error) {
	c.calls++
	return nil, errors.New("should not be called")
}

func TestNegotiateWithoutDomain(t *testing.T) {
	opener := &countingOpener{}
	n := &negotiate.Negotiator{Opener: opener}

	_, err := n.Negotiate(context.Background(), negotiate.Identity{}, transport.Request{Kind: options.TransportPipe})
	require.Error(t, err)
	assert.True(t, negotiate.IsNegotiationError(err, negotiate.DomainRejected))
	assert.Zero(t, opener.calls)
}

func TestNegotiateContextCancel(t *testing.T) {
	h := newHarness(t, &negotiatetest.Collector{Behavior: negotiatetest.Silent}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	h.negotiator.OnTransition = func(_, to negotiate.State) {
		if to == negotiate.StateHandshakeSent {
			cancel()
		}
	}

	_, err := h.negotiator.Negotiate(ctx, negotiate.Identity{Number: number(60)}, h.request())
	require.Error(t, err)
	assert.True(t, negotiate.IsNegotiationError(err, negotiate.NegotiationTimeout))
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, h.wait(t))
	assert.True(t, h.collector.AgentClosed())
}

func TestNegotiateOverPipe(t *testing.T) {
	agentIn, collectorOut, err := os.Pipe()
	require.NoError(t, err)
	collectorIn, agentOut, err := os.Pipe()
	require.NoError(t, err)
	defer collectorOut.Close()
	defer collectorIn.Close()

	collector := &negotiatetest.Collector{Behavior: negotiatetest.Ack, Name: "counter"}
	done := make(chan error, 1)
	go func() {
		done <- collector.Serve(struct {
			io.Reader
			io.Writer
		}{collectorIn, collectorOut})
	}()

	n := &negotiate.Negotiator{
		Opener:    &transport.Opener{Stdin: agentIn, Stdout: agentOut},
		AgentName: "pmdacounter",
		Timeout:   time.Second,
	}
	sess, err := n.Negotiate(context.Background(), negotiate.Identity{Number: number(450)},
		transport.Request{Kind: options.TransportPipe})
	require.NoError(t, err)
	defer sess.Close()

	assert.Equal(t, 450, sess.Domain)
	assert.Equal(t, "counter", sess.Name)
	assert.Equal(t, "domain 450 (counter) over pipe", sess.String())
	require.NoError(t, <-done)
}

func TestIdentityFrom(t *testing.T) {
	parse := func(tokens ...string) *options.AgentConfig {
		cfg, err := options.Parse(tokens, options.DefaultCatalog())
		require.NoError(t, err)
		return cfg
	}

	id := negotiate.IdentityFrom(parse("--domain=60"), 450)
	require.NotNil(t, id.Number)
	assert.Equal(t, 60, *id.Number)
	assert.Equal(t, "60", id.String())

	id = negotiate.IdentityFrom(parse("--domain=counter"), 450)
	assert.Nil(t, id.Number)
	assert.Equal(t, "counter", id.Name)

	id = negotiate.IdentityFrom(parse(), 450)
	require.NotNil(t, id.Number)
	assert.Equal(t, 450, *id.Number)

	id = negotiate.IdentityFrom(parse(), 0)
	assert.Equal(t, "<none>", id.String())
}
