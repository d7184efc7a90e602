package options

import (
	"math/bits"
)

// Domain numbers 0 and 511 are reserved by the collector.
const (
	MinDomain = 1
	MaxDomain = 510
)

// TransportKind names a collector transport.
type TransportKind int

const (
	TransportUnspecified TransportKind = iota
	TransportPipe
	TransportUnix
	TransportInet
	TransportIPv6
)

func (k TransportKind) String() string {
	switch k {
	case TransportPipe:
		return "pipe"
	case TransportUnix:
		return "unix"
	case TransportInet:
		return "inet"
	case TransportIPv6:
		return "ipv6"
	default:
		return "unspecified"
	}
}

// TransportSet records which transport flags were given explicitly.
type TransportSet uint8

// Has reports whether k is in the set.
func (s TransportSet) Has(k TransportKind) bool {
	return s&(1<<uint(k)) != 0
}

// Len returns the number of distinct kinds in the set.
func (s TransportSet) Len() int {
	return bits.OnesCount8(uint8(s))
}

// Kinds lists the members in TransportKind order.
func (s TransportSet) Kinds() []TransportKind {
	var kinds []TransportKind
	for k := TransportPipe; k <= TransportIPv6; k++ {
		if s.Has(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (s *TransportSet) add(k TransportKind) {
	*s |= 1 << uint(k)
}

// AgentConfig is the validated result of parsing a PMDA command line.
// The zero value holds the documented defaults: no domain, no username,
// default log file, no debug flags and an unspecified transport.
type AgentConfig struct {
	DomainNumber *int   // set when --domain was a decimal number
	DomainName   string // raw --domain value
	Username     string
	Logfile      string
	Debug        string

	// Transport is the last transport flag seen; Requested holds every
	// transport flag that appeared at all.
	Transport TransportKind
	Requested TransportSet
	UnixPath  string
	InetPort  *int // nil means the default port
	IPv6Port  *int

	HelpRequested bool

	// Custom holds values of agent-specific options keyed by long form.
	Custom map[string]string
	// Args holds positional arguments and everything after "--".
	Args []string
}

// HasDomain reports whether --domain was given.
func (c *AgentConfig) HasDomain() bool {
	return c.DomainNumber != nil || c.DomainName != ""
}

// CustomValue returns the value of an agent-specific option.
func (c *AgentConfig) CustomValue(long string) (string, bool) {
	v, ok := c.Custom[long]
	return v, ok
}
