package negotiate

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestHelloRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Hello{Version: InterfaceVersion, Domain: 60, HasDomain: true, Name: "counter", Agent: "pmdacounter", PID: 4242}
	require.NoError(t, WriteHello(&buf, in))

	// A trailing frame must stay unread.
	require.NoError(t, WriteReply(&buf, Reply{Type: MsgAck, Domain: 60}))

	out, err := ReadHello(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	rep, err := ReadReply(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgAck, rep.Type)
	assert.Equal(t, 60, rep.Domain)
}

func TestHelloWithoutNumber(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHello(&buf, Hello{Version: InterfaceVersion, Name: "counter"}))

	out, err := ReadHello(&buf)
	require.NoError(t, err)
	assert.False(t, out.HasDomain)
	assert.Zero(t, out.Domain)
	assert.Equal(t, "counter", out.Name)
}

func TestReadReplySkipsUnknownFields(t *testing.T) {
	b := protowire.AppendTag(nil, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(MsgReject))
	b = protowire.AppendTag(b, 42, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 7)
	b = protowire.AppendTag(b, fieldCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(DomainClaimed))
	b = protowire.AppendTag(b, 43, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, b))

	rep, err := ReadReply(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgReject, rep.Type)
	assert.Equal(t, DomainClaimed, rep.Code)
}

func TestReadReplyErrors(t *testing.T) {
	frame := func(rep Reply) []byte {
		var buf bytes.Buffer
		require.NoError(t, WriteReply(&buf, rep))
		return buf.Bytes()
	}
	hello := func() []byte {
		var buf bytes.Buffer
		require.NoError(t, WriteHello(&buf, Hello{Version: 1}))
		return buf.Bytes()
	}

	tests := []struct {
		name   string
		input  []byte
		target error
	}{
		{"empty", nil, io.EOF},
		{"truncated length", []byte{0x80}, io.ErrUnexpectedEOF},
		{"truncated payload", []byte{0x04, 0x08}, io.ErrUnexpectedEOF},
		{"oversized", protowire.AppendVarint(nil, MaxFrameSize+1), ErrMalformed},
		{"length overflow", bytes.Repeat([]byte{0xff}, maxVarintLen), ErrMalformed},
		{"bad tag", []byte{0x02, 0xff, 0xff}, ErrMalformed},
		{"ack without domain", frame(Reply{Type: MsgAck}), ErrMalformed},
		{"ack beyond range", frame(Reply{Type: MsgAck, Domain: 511}), ErrMalformed},
		{"hello is not a reply", hello(), ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadReply(bytes.NewReader(tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestReadHelloRejectsReply(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReply(&buf, Reply{Type: MsgAck, Domain: 1}))
	_, err := ReadHello(&buf)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestWriteFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	err := WriteHello(&buf, Hello{Name: string(make([]byte, MaxFrameSize))})
	require.Error(t, err)
	assert.Zero(t, buf.Len())
}
