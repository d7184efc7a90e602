// Package transport chooses and opens the channel a PMDA uses to talk to
// the metrics collector.
//
// Selection is pure: Select turns a parsed AgentConfig into a Request,
// consulting a Platform only to learn what the host can do. Opening is the
// first step with side effects and is done by an Opener.
package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tobert/pmda-agent/internal/options"
)

// Request is a fully resolved transport choice.
type Request struct {
	Kind options.TransportKind
	Path string // UNIX socket path
	Port int    // inet or ipv6 port
}

func (r Request) String() string {
	switch r.Kind {
	case options.TransportUnix:
		return "unix:" + r.Path
	case options.TransportInet, options.TransportIPv6:
		return r.Kind.String() + ":" + strconv.Itoa(r.Port)
	default:
		return r.Kind.String()
	}
}

// Defaults fills in the values a bare transport flag leaves open.
type Defaults struct {
	UnixPath string
	InetPort int
	IPv6Port int
}

// Precedence is the order tried when no transport flag was given.
var Precedence = []options.TransportKind{
	options.TransportUnix,
	options.TransportInet,
	options.TransportIPv6,
	options.TransportPipe,
}

// SelectionErrorKind classifies a SelectionError.
type SelectionErrorKind int

const (
	AmbiguousTransport SelectionErrorKind = iota + 1
	UnsupportedTransport
)

// SelectionError is returned by Select.
type SelectionError struct {
	Kind      SelectionErrorKind
	Requested []options.TransportKind
	Err       error
}

func (e *SelectionError) Error() string {
	names := make([]string, 0, len(e.Requested))
	for _, k := range e.Requested {
		names = append(names, "--"+k.String())
	}
	switch e.Kind {
	case AmbiguousTransport:
		return fmt.Sprintf("conflicting transport options %s", strings.Join(names, ", "))
	case UnsupportedTransport:
		if e.Err != nil {
			return fmt.Sprintf("transport %s not supported: %v", strings.Join(names, ", "), e.Err)
		}
		return fmt.Sprintf("transport %s not supported", strings.Join(names, ", "))
	default:
		return "transport selection failed"
	}
}

func (e *SelectionError) Unwrap() error {
	return e.Err
}

// causes keeps every per-transport error reachable through errors.Is while
// reporting them on one line.
type causes []error

func (c causes) Error() string {
	msgs := make([]string, 0, len(c))
	for _, err := range c {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (c causes) Unwrap() []error {
	return c
}

// IsSelectionError reports whether err is a SelectionError of the given kind.
func IsSelectionError(err error, kind SelectionErrorKind) bool {
	var se *SelectionError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// Select decides which transport cfg asks for.
//
// Giving more than one kind of transport flag is an error. An explicit kind
// is used as is when the platform supports it; otherwise Precedence is
// walked and the first supported kind wins.
func Select(cfg *options.AgentConfig, platform Platform, defaults Defaults) (Request, error) {
	if cfg == nil {
		cfg = &options.AgentConfig{}
	}
	if platform == nil {
		platform = HostPlatform()
	}

	if cfg.Requested.Len() > 1 {
		return Request{}, &SelectionError{Kind: AmbiguousTransport, Requested: cfg.Requested.Kinds()}
	}

	if cfg.Transport != options.TransportUnspecified {
		if err := platform.Supports(cfg.Transport); err != nil {
			return Request{}, &SelectionError{
				Kind:      UnsupportedTransport,
				Requested: []options.TransportKind{cfg.Transport},
				Err:       err,
			}
		}
		return resolve(cfg.Transport, cfg, defaults), nil
	}

	var errs []error
	for _, kind := range Precedence {
		err := platform.Supports(kind)
		if err == nil {
			return resolve(kind, cfg, defaults), nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", kind, err))
	}
	return Request{}, &SelectionError{
		Kind:      UnsupportedTransport,
		Requested: Precedence,
		Err:       causes(errs),
	}
}

func resolve(kind options.TransportKind, cfg *options.AgentConfig, defaults Defaults) Request {
	req := Request{Kind: kind}
	switch kind {
	case options.TransportUnix:
		req.Path = cfg.UnixPath
		if req.Path == "" {
			req.Path = defaults.UnixPath
		}
	case options.TransportInet:
		req.Port = defaults.InetPort
		if cfg.InetPort != nil {
			req.Port = *cfg.InetPort
		}
	case options.TransportIPv6:
		req.Port = defaults.IPv6Port
		if cfg.IPv6Port != nil {
			req.Port = *cfg.IPv6Port
		}
	}
	return req
}
