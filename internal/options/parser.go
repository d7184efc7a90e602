package options

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParsedOption is one recognized flag occurrence.
type ParsedOption struct {
	Spec     OptionSpec
	Token    string
	Value    string
	HasValue bool
}

// Parse scans tokens left to right against catalog and builds an
// AgentConfig.
//
// Every repeatable option keeps its last value. Domain and username must
// appear at most once. When --help appears anywhere the whole line is still
// scanned, HelpRequested is set and any other error is dropped.
func Parse(tokens []string, catalog *Catalog) (*AgentConfig, error) {
	if catalog == nil {
		catalog = DefaultCatalog()
	}

	p := &parser{
		catalog: catalog,
		tokens:  tokens,
		seen:    make(map[Tag]bool),
	}
	p.run()

	if p.cfg.HelpRequested {
		return &p.cfg, nil
	}
	if p.err != nil {
		return nil, p.err
	}
	return &p.cfg, nil
}

type parser struct {
	catalog *Catalog
	tokens  []string
	pos     int
	cfg     AgentConfig
	seen    map[Tag]bool
	err     error
}

func (p *parser) run() {
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		p.pos++

		switch {
		case tok == "--":
			p.cfg.Args = append(p.cfg.Args, p.tokens[p.pos:]...)
			p.pos = len(p.tokens)
		case strings.HasPrefix(tok, "--"):
			p.long(tok)
		case len(tok) > 1 && tok[0] == '-':
			p.short(tok)
		default:
			p.cfg.Args = append(p.cfg.Args, tok)
		}
	}
}

// fail keeps the first error; scanning continues so a later --help wins.
func (p *parser) fail(err *ParseError) {
	if p.err == nil {
		p.err = err
	}
}

// next consumes the following token as an option value.
func (p *parser) next() (string, bool) {
	if p.pos >= len(p.tokens) {
		return "", false
	}
	v := p.tokens[p.pos]
	p.pos++
	return v, true
}

func (p *parser) long(tok string) {
	name, value, hasValue := strings.Cut(tok[2:], "=")
	spec, ok := p.catalog.Lookup(name)
	if !ok {
		p.fail(&ParseError{Kind: UnknownOption, Token: tok})
		return
	}

	switch spec.Arg {
	case NoArgument:
		if hasValue {
			p.fail(&ParseError{Kind: InvalidArgument, Token: tok, Option: spec.Flag(), Tag: spec.Tag,
				Err: errors.New("option takes no argument")})
			return
		}
	case RequiredArgument:
		if !hasValue {
			if value, hasValue = p.next(); !hasValue {
				p.fail(&ParseError{Kind: MissingArgument, Token: tok, Option: spec.Flag(), Tag: spec.Tag})
				return
			}
		}
	}

	p.apply(ParsedOption{Spec: spec, Token: tok, Value: value, HasValue: hasValue})
}

// short handles "-x", "-xVALUE", "-x VALUE" and bundles such as "-pD all".
func (p *parser) short(tok string) {
	flags := []rune(tok[1:])
	for i, r := range flags {
		spec, ok := p.catalog.LookupShort(r)
		if !ok {
			p.fail(&ParseError{Kind: UnknownOption, Token: tok})
			return
		}

		rest := string(flags[i+1:])
		switch spec.Arg {
		case NoArgument:
			p.apply(ParsedOption{Spec: spec, Token: tok})
			continue
		case OptionalArgument:
			p.apply(ParsedOption{Spec: spec, Token: tok, Value: rest, HasValue: rest != ""})
			return
		default:
			if rest == "" {
				var more bool
				if rest, more = p.next(); !more {
					p.fail(&ParseError{Kind: MissingArgument, Token: tok, Option: spec.Flag(), Tag: spec.Tag})
					return
				}
			}
			p.apply(ParsedOption{Spec: spec, Token: tok, Value: rest, HasValue: true})
			return
		}
	}
}

func (p *parser) apply(opt ParsedOption) {
	spec := opt.Spec
	invalid := func(err error) {
		p.fail(&ParseError{Kind: InvalidArgument, Token: opt.Token, Option: spec.Flag(), Tag: spec.Tag, Err: err})
	}

	if spec.Tag == TagDomain || spec.Tag == TagUsername {
		if p.seen[spec.Tag] {
			p.fail(&ParseError{Kind: DuplicateOption, Token: opt.Token, Option: spec.Flag(), Tag: spec.Tag})
			return
		}
		p.seen[spec.Tag] = true
	}

	if spec.Arg == RequiredArgument && opt.Value == "" {
		invalid(errors.New("empty value"))
		return
	}

	cfg := &p.cfg
	switch spec.Tag {
	case TagDebug:
		cfg.Debug = opt.Value

	case TagDomain:
		if isDecimal(opt.Value) {
			n, err := strconv.Atoi(opt.Value)
			if err != nil || n < MinDomain || n > MaxDomain {
				invalid(fmt.Errorf("domain %s outside %d-%d", opt.Value, MinDomain, MaxDomain))
				return
			}
			cfg.DomainNumber = &n
		} else {
			cfg.DomainNumber = nil
		}
		cfg.DomainName = opt.Value

	case TagHelpText:
		cfg.HelpRequested = true

	case TagInet, TagIPv6:
		port, err := parsePort(opt)
		if err != nil {
			invalid(err)
			return
		}
		if spec.Tag == TagInet {
			cfg.InetPort = port
			cfg.Transport = TransportInet
		} else {
			cfg.IPv6Port = port
			cfg.Transport = TransportIPv6
		}
		cfg.Requested.add(cfg.Transport)

	case TagLogfile:
		cfg.Logfile = opt.Value

	case TagPipe:
		cfg.Transport = TransportPipe
		cfg.Requested.add(TransportPipe)

	case TagUnix:
		cfg.UnixPath = opt.Value
		cfg.Transport = TransportUnix
		cfg.Requested.add(TransportUnix)

	case TagUsername:
		cfg.Username = opt.Value

	case TagCustom:
		if cfg.Custom == nil {
			cfg.Custom = make(map[string]string)
		}
		cfg.Custom[spec.Long] = opt.Value
	}
}

// parsePort returns nil when an optional port was omitted.
func parsePort(opt ParsedOption) (*int, error) {
	if !opt.HasValue {
		return nil, nil
	}
	if opt.Value == "" {
		return nil, errors.New("empty port")
	}
	port, err := strconv.Atoi(opt.Value)
	if err != nil {
		return nil, fmt.Errorf("port %q is not a number", opt.Value)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("port %d out of range", port)
	}
	return &port, nil
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
