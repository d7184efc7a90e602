package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/tobert/pmda-agent/internal/options"
)

// DefaultAcceptTimeout bounds how long a socket transport waits for the
// collector to connect.
const DefaultAcceptTimeout = 30 * time.Second

// ErrAddressInUse is returned when a UNIX socket path is occupied by
// something that is not a socket.
var ErrAddressInUse = errors.New("address in use")

// Conn is an open channel to the collector.
type Conn interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
}

// Opener turns a Request into a Conn.
//
// For socket transports the agent listens and accepts exactly one
// connection from the collector; the listener is closed as soon as that
// connection arrives. For the pipe transport the agent talks over the file
// pair it inherited from the collector.
type Opener struct {
	Stdin  *os.File // defaults to os.Stdin
	Stdout *os.File // defaults to os.Stdout

	AcceptTimeout time.Duration

	// OnListen, when set, is called with the bound address before the
	// opener blocks in accept.
	OnListen func(net.Addr)
}

// Open acquires the OS resource described by req.
func (o *Opener) Open(ctx context.Context, req Request) (Conn, error) {
	switch req.Kind {
	case options.TransportPipe:
		return o.openPipe()
	case options.TransportUnix:
		if req.Path == "" {
			return nil, errors.New("unix transport needs a socket path")
		}
		if err := removeStaleSocket(req.Path); err != nil {
			return nil, err
		}
		return o.listenAndAccept(ctx, "unix", req.Path)
	case options.TransportInet:
		return o.listenAndAccept(ctx, "tcp4", net.JoinHostPort("", strconv.Itoa(req.Port)))
	case options.TransportIPv6:
		return o.listenAndAccept(ctx, "tcp6", net.JoinHostPort("", strconv.Itoa(req.Port)))
	default:
		return nil, fmt.Errorf("cannot open transport %s", req.Kind)
	}
}

func (o *Opener) openPipe() (Conn, error) {
	in, out := o.Stdin, o.Stdout
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if in == nil || out == nil {
		return nil, errors.New("pipe transport needs stdin and stdout")
	}
	r, rOrig := pollable(in)
	w, wOrig := pollable(out)
	return &pipeConn{r: r, w: w, orig: [2]*os.File{rOrig, wOrig}}, nil
}

func (o *Opener) listenAndAccept(ctx context.Context, network, addr string) (Conn, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s %s: %w", network, addr, err)
	}
	defer ln.Close()

	if o.OnListen != nil {
		o.OnListen(ln.Addr())
	}

	timeout := o.AcceptTimeout
	if timeout <= 0 {
		timeout = DefaultAcceptTimeout
	}
	if d, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
		if err := d.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("failed to set accept deadline on %s: %w", ln.Addr(), err)
		}
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("accept on %s: %w", ln.Addr(), ctxErr)
		}
		return nil, fmt.Errorf("accept on %s: %w", ln.Addr(), err)
	}
	return conn, nil
}

// removeStaleSocket clears a socket file left behind by an earlier run.
func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot stat %s: %w", path, err)
	}
	if fi.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("%s is not a socket: %w", path, ErrAddressInUse)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("cannot remove stale socket %s: %w", path, err)
	}
	return nil
}

// pipeConn joins the inherited read and write ends into one Conn. orig
// holds inherited descriptors that were replaced by pollable duplicates.
type pipeConn struct {
	r, w      *os.File
	orig      [2]*os.File
	closeOnce sync.Once
	closeErr  error
}

func (p *pipeConn) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeConn) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *pipeConn) SetDeadline(t time.Time) error {
	return errors.Join(p.r.SetReadDeadline(t), p.w.SetWriteDeadline(t))
}

func (p *pipeConn) Close() error {
	p.closeOnce.Do(func() {
		errs := []error{p.r.Close(), p.w.Close()}
		for _, f := range p.orig {
			if f != nil {
				errs = append(errs, f.Close())
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}
