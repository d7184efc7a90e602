package negotiate

import (
	"fmt"
	"sync"

	"github.com/tobert/pmda-agent/internal/transport"
)

// Session is a registered agent identity. It owns the transport until
// Close; PDU traffic for the rest of the agent's life goes over Conn.
type Session struct {
	Domain    int
	Name      string
	Transport transport.Request

	conn      transport.Conn
	closeOnce sync.Once
	closeErr  error
}

// Conn returns the open channel to the collector.
func (s *Session) Conn() transport.Conn {
	return s.conn
}

// Close releases the transport. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			s.closeErr = s.conn.Close()
		}
	})
	return s.closeErr
}

func (s *Session) String() string {
	return fmt.Sprintf("domain %d (%s) over %s", s.Domain, s.Name, s.Transport)
}
