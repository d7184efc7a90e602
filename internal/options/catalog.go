// Package options describes the command line options a PMDA recognizes and
// parses raw arguments into an immutable AgentConfig.
//
// The catalog is an ordered list of OptionSpec entries. Section headers and
// the end sentinel live in the same list so usage text can be rendered in
// declaration order, but they are never matched by the parser.
package options

import (
	"fmt"
)

// Tag identifies which AgentConfig field an option configures.
type Tag int

const (
	TagNone Tag = iota
	TagDebug
	TagDomain
	TagHelpText
	TagInet
	TagIPv6
	TagLogfile
	TagPipe
	TagUnix
	TagUsername
	TagCustom
)

var tagNames = map[Tag]string{
	TagNone:     "none",
	TagDebug:    "debug",
	TagDomain:   "domain",
	TagHelpText: "help",
	TagInet:     "inet",
	TagIPv6:     "ipv6",
	TagLogfile:  "logfile",
	TagPipe:     "pipe",
	TagUnix:     "unix",
	TagUsername: "username",
	TagCustom:   "custom",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tag(%d)", int(t))
}

// ArgMode says whether an option consumes a value.
type ArgMode int

const (
	NoArgument ArgMode = iota
	RequiredArgument
	OptionalArgument
)

// EntryKind separates real options from usage-only catalog entries.
type EntryKind int

const (
	KindOption EntryKind = iota
	KindHeader
	KindEnd
)

// OptionSpec describes one catalog entry.
type OptionSpec struct {
	Short   rune // 0 when the option has no short form
	Long    string
	Arg     ArgMode
	ArgName string // placeholder shown in usage, e.g. "NUM"
	Help    string // description, or the section label for headers
	Tag     Tag
	Kind    EntryKind
}

// TakesArgument reports whether the option accepts a value at all.
func (s OptionSpec) TakesArgument() bool {
	return s.Arg != NoArgument
}

// Flag returns the canonical long spelling, e.g. "--domain".
func (s OptionSpec) Flag() string {
	if s.Long == "" && s.Short != 0 {
		return "-" + string(s.Short)
	}
	return "--" + s.Long
}

// Header returns a section label entry.
func Header(label string) OptionSpec {
	return OptionSpec{Help: label, Kind: KindHeader}
}

// End returns the end-of-list sentinel.
func End() OptionSpec {
	return OptionSpec{Kind: KindEnd}
}

var (
	DebugOption = OptionSpec{Short: 'D', Long: "debug", Arg: RequiredArgument, ArgName: "DBG",
		Help: "set debug options", Tag: TagDebug}
	DomainOption = OptionSpec{Short: 'd', Long: "domain", Arg: RequiredArgument, ArgName: "NUM",
		Help: "use domain (numeric) for metrics domain of PMDA", Tag: TagDomain}
	HelpOption = OptionSpec{Short: '?', Long: "help",
		Help: "show this usage message and exit", Tag: TagHelpText}
	InetOption = OptionSpec{Short: 'i', Long: "inet", Arg: OptionalArgument, ArgName: "PORT",
		Help: "metrics source inet port", Tag: TagInet}
	IPv6Option = OptionSpec{Short: '6', Long: "ipv6", Arg: OptionalArgument, ArgName: "PORT",
		Help: "metrics source ipv6 port", Tag: TagIPv6}
	LogfileOption = OptionSpec{Short: 'l', Long: "logfile", Arg: RequiredArgument, ArgName: "FILE",
		Help: "write log into FILE rather than using default log name", Tag: TagLogfile}
	PipeOption = OptionSpec{Short: 'p', Long: "pipe",
		Help: "metrics source is a pipe", Tag: TagPipe}
	UnixOption = OptionSpec{Short: 'u', Long: "unix", Arg: RequiredArgument, ArgName: "FILE",
		Help: "metrics source is a unix domain socket", Tag: TagUnix}
	UsernameOption = OptionSpec{Short: 'U', Long: "username", Arg: RequiredArgument, ArgName: "USER",
		Help: "run the PMDA using the named user account", Tag: TagUsername}
)

// Catalog is an immutable, ordered set of option specs.
type Catalog struct {
	entries []OptionSpec
	byLong  map[string]int
	byShort map[rune]int
}

// NewCatalog validates entries and builds a catalog from them.
func NewCatalog(entries ...OptionSpec) (*Catalog, error) {
	c := &Catalog{
		entries: append([]OptionSpec(nil), entries...),
		byLong:  make(map[string]int, len(entries)),
		byShort: make(map[rune]int, len(entries)),
	}

	domains := 0
	for i, e := range c.entries {
		switch e.Kind {
		case KindHeader:
			continue
		case KindEnd:
			if i != len(c.entries)-1 {
				return nil, fmt.Errorf("end sentinel at position %d is not last", i)
			}
			continue
		}

		if e.Long == "" {
			return nil, fmt.Errorf("option at position %d has no long form", i)
		}
		if e.Tag == TagNone {
			return nil, fmt.Errorf("option --%s has no tag", e.Long)
		}
		if _, dup := c.byLong[e.Long]; dup {
			return nil, fmt.Errorf("option --%s declared twice", e.Long)
		}
		c.byLong[e.Long] = i

		if e.Short != 0 {
			if _, dup := c.byShort[e.Short]; dup {
				return nil, fmt.Errorf("short option -%c declared twice", e.Short)
			}
			c.byShort[e.Short] = i
		}

		if e.Tag == TagDomain {
			domains++
			if domains > 1 {
				return nil, fmt.Errorf("option --%s: only one domain option is allowed", e.Long)
			}
		}
	}

	return c, nil
}

// MustCatalog is NewCatalog for statically declared catalogs.
func MustCatalog(entries ...OptionSpec) *Catalog {
	c, err := NewCatalog(entries...)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultCatalog returns the standard PMDA option set.
func DefaultCatalog() *Catalog {
	return MustCatalog(
		Header("Options"),
		DebugOption,
		DomainOption,
		HelpOption,
		InetOption,
		IPv6Option,
		LogfileOption,
		PipeOption,
		UnixOption,
		UsernameOption,
		End(),
	)
}

// Extend returns a new catalog with extra entries inserted before the end
// sentinel. The receiver is not modified.
func (c *Catalog) Extend(extra ...OptionSpec) (*Catalog, error) {
	entries := make([]OptionSpec, 0, len(c.entries)+len(extra))
	var end []OptionSpec
	for _, e := range c.entries {
		if e.Kind == KindEnd {
			end = append(end, e)
			continue
		}
		entries = append(entries, e)
	}
	entries = append(entries, extra...)
	entries = append(entries, end...)
	return NewCatalog(entries...)
}

// Lookup finds an option by its long form.
func (c *Catalog) Lookup(long string) (OptionSpec, bool) {
	i, ok := c.byLong[long]
	if !ok {
		return OptionSpec{}, false
	}
	return c.entries[i], true
}

// LookupShort finds an option by its short form.
func (c *Catalog) LookupShort(r rune) (OptionSpec, bool) {
	i, ok := c.byShort[r]
	if !ok {
		return OptionSpec{}, false
	}
	return c.entries[i], true
}

// All returns a copy of every entry in declaration order, including headers
// and the end sentinel.
func (c *Catalog) All() []OptionSpec {
	return append([]OptionSpec(nil), c.entries...)
}
