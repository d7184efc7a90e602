package transport

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"

	"github.com/tobert/pmda-agent/internal/options"
)

// ErrUnsupported is wrapped by Platform implementations for kinds the host
// cannot provide.
var ErrUnsupported = errors.New("not supported on this platform")

// Platform reports which transports the host can provide.
type Platform interface {
	Supports(kind options.TransportKind) error
}

// PlatformFunc adapts a function to Platform.
type PlatformFunc func(kind options.TransportKind) error

func (f PlatformFunc) Supports(kind options.TransportKind) error { return f(kind) }

type hostPlatform struct {
	ipv6Once sync.Once
	ipv6Err  error
}

var host = &hostPlatform{}

// HostPlatform returns the Platform for the running process. IPv6 support
// is probed once by listening on the loopback address.
func HostPlatform() Platform {
	return host
}

func (h *hostPlatform) Supports(kind options.TransportKind) error {
	switch kind {
	case options.TransportPipe, options.TransportInet:
		return nil
	case options.TransportUnix:
		switch runtime.GOOS {
		case "plan9", "js", "wasip1":
			return fmt.Errorf("unix sockets on %s: %w", runtime.GOOS, ErrUnsupported)
		}
		return nil
	case options.TransportIPv6:
		h.ipv6Once.Do(func() {
			ln, err := net.Listen("tcp6", "[::1]:0")
			if err != nil {
				h.ipv6Err = fmt.Errorf("no ipv6 loopback (%v): %w", err, ErrUnsupported)
				return
			}
			ln.Close()
		})
		return h.ipv6Err
	default:
		return fmt.Errorf("transport %s: %w", kind, ErrUnsupported)
	}
}
