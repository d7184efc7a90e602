package negotiate

import (
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tobert/pmda-agent/internal/options"
)

// InterfaceVersion is the registration protocol version sent in Hello.
const InterfaceVersion = 2

// MaxFrameSize bounds a single handshake frame.
const MaxFrameSize = 64 << 10

// maxVarintLen is the longest varint encoding of a uint64.
const maxVarintLen = 10

// ErrMalformed is wrapped by every decoding failure.
var ErrMalformed = errors.New("malformed handshake message")

// MessageType is the first field of every handshake frame.
type MessageType uint64

const (
	MsgHello  MessageType = 1
	MsgAck    MessageType = 2
	MsgReject MessageType = 3
)

// RejectCode says why the collector refused a domain.
type RejectCode uint64

const (
	RejectUnspecified RejectCode = iota
	DomainClaimed
	DomainUnresolved
)

func (c RejectCode) String() string {
	switch c {
	case DomainClaimed:
		return "domain already claimed"
	case DomainUnresolved:
		return "domain name unresolvable"
	default:
		return "rejected"
	}
}

const (
	fieldType    protowire.Number = 1
	fieldVersion protowire.Number = 2
	fieldDomain  protowire.Number = 3
	fieldName    protowire.Number = 4
	fieldAgent   protowire.Number = 5
	fieldPID     protowire.Number = 6
	fieldCode    protowire.Number = 7
	fieldReason  protowire.Number = 8
)

// Hello is sent by the agent once the transport is open.
type Hello struct {
	Version   uint64
	Domain    int  // requested domain number, valid when HasDomain
	HasDomain bool // false when only a name is requested
	Name      string
	Agent     string
	PID       int
}

// Reply is the collector's answer to Hello.
type Reply struct {
	Type   MessageType
	Domain int
	Name   string
	Code   RejectCode
	Reason string
}

// WriteHello frames and writes h.
func WriteHello(w io.Writer, h Hello) error {
	b := protowire.AppendTag(nil, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(MsgHello))
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, h.Version)
	if h.HasDomain {
		b = protowire.AppendTag(b, fieldDomain, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.Domain))
	}
	if h.Name != "" {
		b = protowire.AppendTag(b, fieldName, protowire.BytesType)
		b = protowire.AppendString(b, h.Name)
	}
	if h.Agent != "" {
		b = protowire.AppendTag(b, fieldAgent, protowire.BytesType)
		b = protowire.AppendString(b, h.Agent)
	}
	if h.PID > 0 {
		b = protowire.AppendTag(b, fieldPID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.PID))
	}
	return writeFrame(w, b)
}

// ReadHello reads one Hello frame. It is the collector side of the
// handshake and exists for tooling and tests.
func ReadHello(r io.Reader) (Hello, error) {
	payload, err := readFrame(r)
	if err != nil {
		return Hello{}, err
	}
	f, err := parseFields(payload)
	if err != nil {
		return Hello{}, err
	}
	if MessageType(f.varints[fieldType]) != MsgHello {
		return Hello{}, fmt.Errorf("%w: expected hello, got type %d", ErrMalformed, f.varints[fieldType])
	}

	h := Hello{
		Version: f.varints[fieldVersion],
		Name:    f.strings[fieldName],
		Agent:   f.strings[fieldAgent],
		PID:     int(f.varints[fieldPID]),
	}
	if d, ok := f.varints[fieldDomain]; ok {
		h.Domain, h.HasDomain = int(d), true
	}
	return h, nil
}

// WriteReply frames and writes rep.
func WriteReply(w io.Writer, rep Reply) error {
	b := protowire.AppendTag(nil, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rep.Type))
	if rep.Domain > 0 {
		b = protowire.AppendTag(b, fieldDomain, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(rep.Domain))
	}
	if rep.Name != "" {
		b = protowire.AppendTag(b, fieldName, protowire.BytesType)
		b = protowire.AppendString(b, rep.Name)
	}
	if rep.Code != RejectUnspecified {
		b = protowire.AppendTag(b, fieldCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(rep.Code))
	}
	if rep.Reason != "" {
		b = protowire.AppendTag(b, fieldReason, protowire.BytesType)
		b = protowire.AppendString(b, rep.Reason)
	}
	return writeFrame(w, b)
}

// ReadReply reads the collector's answer. An Ack must carry a valid domain
// number.
func ReadReply(r io.Reader) (Reply, error) {
	payload, err := readFrame(r)
	if err != nil {
		return Reply{}, err
	}
	f, err := parseFields(payload)
	if err != nil {
		return Reply{}, err
	}

	rep := Reply{
		Type:   MessageType(f.varints[fieldType]),
		Domain: int(f.varints[fieldDomain]),
		Name:   f.strings[fieldName],
		Code:   RejectCode(f.varints[fieldCode]),
		Reason: f.strings[fieldReason],
	}
	switch rep.Type {
	case MsgAck:
		if rep.Domain < options.MinDomain || rep.Domain > options.MaxDomain {
			return Reply{}, fmt.Errorf("%w: ack for invalid domain %d", ErrMalformed, rep.Domain)
		}
	case MsgReject:
	default:
		return Reply{}, fmt.Errorf("%w: unexpected reply type %d", ErrMalformed, rep.Type)
	}
	return rep, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("handshake frame of %d bytes exceeds %d", len(payload), MaxFrameSize)
	}
	buf := protowire.AppendVarint(make([]byte, 0, maxVarintLen+len(payload)), uint64(len(payload)))
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// readFrame reads a varint length prefix one byte at a time so nothing
// past the frame is consumed from r.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [maxVarintLen]byte
	for i := 0; i < len(hdr); i++ {
		if _, err := io.ReadFull(r, hdr[i:i+1]); err != nil {
			if i > 0 && errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if hdr[i] >= 0x80 {
			continue
		}

		size, n := protowire.ConsumeVarint(hdr[:i+1])
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		if size > MaxFrameSize {
			return nil, fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrMalformed, size, MaxFrameSize)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		return payload, nil
	}
	return nil, fmt.Errorf("%w: frame length overflows", ErrMalformed)
}

type fields struct {
	varints map[protowire.Number]uint64
	strings map[protowire.Number]string
}

// parseFields decodes a flat protobuf-wire message. Unknown wire types are
// skipped; a later occurrence of a field replaces an earlier one.
func parseFields(b []byte) (fields, error) {
	f := fields{
		varints: make(map[protowire.Number]uint64),
		strings: make(map[protowire.Number]string),
	}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fields{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fields{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
			}
			f.varints[num] = v
			n = m
		case protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return fields{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
			}
			f.strings[num] = v
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fields{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return f, nil
}
