package options

import (
	"errors"
	"fmt"
)

// ParseErrorKind classifies a ParseError.
type ParseErrorKind int

const (
	MissingArgument ParseErrorKind = iota + 1
	UnknownOption
	DuplicateOption
	InvalidArgument
)

func (k ParseErrorKind) String() string {
	switch k {
	case MissingArgument:
		return "missing argument"
	case UnknownOption:
		return "unknown option"
	case DuplicateOption:
		return "duplicate option"
	case InvalidArgument:
		return "invalid argument"
	default:
		return "parse error"
	}
}

// ParseError is returned by Parse. Token is the raw command line token that
// caused the failure; Option is the canonical flag when it is known.
type ParseError struct {
	Kind   ParseErrorKind
	Token  string
	Option string
	Tag    Tag
	Err    error
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case MissingArgument:
		return fmt.Sprintf("option %s requires an argument", e.Option)
	case UnknownOption:
		return fmt.Sprintf("unknown option %q", e.Token)
	case DuplicateOption:
		return fmt.Sprintf("option %s given more than once", e.Option)
	case InvalidArgument:
		if e.Err != nil {
			return fmt.Sprintf("invalid argument for %s: %v", e.Option, e.Err)
		}
		return fmt.Sprintf("invalid argument for %s", e.Option)
	default:
		return fmt.Sprintf("cannot parse %q", e.Token)
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is a ParseError of the given kind.
func IsParseError(err error, kind ParseErrorKind) bool {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}
