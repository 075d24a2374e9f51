package peer_protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/bradfitz/iter"
	qt "github.com/go-quicktest/qt"
	"github.com/stretchr/testify/require"
)

func roundTripMessages() []Message {
	const lastPiece = 1<<20 - 1
	return []Message{
		{Keepalive: true},
		{Type: Choke},
		{Type: Unchoke},
		{Type: Interested},
		{Type: NotInterested},
		MakeHaveMessage(0),
		MakeHaveMessage(lastPiece),
		{Type: Bitfield, Bitfield: []bool{true, false, true, true, false, false, false, true, false, true, false, false, false, false, false, false}},
		MakeRequestMessage(0, 0, 16384),
		MakeRequestMessage(lastPiece, 16384, 1234),
		MakeCancelMessage(lastPiece, 0, 16384),
		MakePieceMessage(0, 0, bytes.Repeat([]byte{'x'}, 16384)),
		MakePieceMessage(lastPiece, 16384, []byte("short final block")),
		{Type: Port, Port: 65535},
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	for _, m := range roundTripMessages() {
		var out Message
		qt.Assert(t, qt.IsNil(out.UnmarshalBinary(m.MustMarshalBinary())))
		qt.Check(t, qt.DeepEquals(out, m), qt.Commentf("%v", m))
	}
}

func TestDecoderStream(t *testing.T) {
	var buf bytes.Buffer
	msgs := roundTripMessages()
	for _, m := range msgs {
		buf.Write(m.MustMarshalBinary())
	}
	d := Decoder{R: bufio.NewReader(&buf), MaxLength: 1 << 15}
	for _, expected := range msgs {
		var m Message
		require.NoError(t, d.Decode(&m))
		qt.Check(t, qt.DeepEquals(m, expected))
	}
	var m Message
	require.ErrorIs(t, d.Decode(&m), io.EOF)
}

func TestDecoderMaxLength(t *testing.T) {
	d := Decoder{
		R:         bufio.NewReader(bytes.NewReader(MakePieceMessage(0, 0, make([]byte, 100)).MustMarshalBinary())),
		MaxLength: 50,
	}
	var m Message
	qt.Check(t, qt.ErrorIs(d.Decode(&m), ErrMessageTooLong))
}

func TestDecoderTruncated(t *testing.T) {
	b := MakeRequestMessage(1, 2, 3).MustMarshalBinary()
	d := Decoder{R: bufio.NewReader(bytes.NewReader(b[:len(b)-1]))}
	var m Message
	qt.Check(t, qt.ErrorIs(d.Decode(&m), io.ErrUnexpectedEOF))
}

func TestStrictLengths(t *testing.T) {
	for _, b := range []string{
		"\x00\x00\x00\x02\x00\x00",                      // choke with a payload
		"\x00\x00\x00\x04\x04\x00\x00\x00",              // short have
		"\x00\x00\x00\x0c\x06\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00", // request missing a byte
		"\x00\x00\x00\x08\x07\x00\x00\x00\x00\x00\x00\x00", // piece with no room for begin
		"\x00\x00\x00\x02\x09\x00",                      // port missing a byte
	} {
		var m Message
		err := m.UnmarshalBinary([]byte(b))
		var le LengthError
		qt.Check(t, qt.IsTrue(errors.As(err, &le)), qt.Commentf("%q: %v", b, err))
	}
}

func TestUnknownMessageType(t *testing.T) {
	var m Message
	qt.Check(t, qt.ErrorMatches(m.UnmarshalBinary([]byte("\x00\x00\x00\x01\x14")), "unknown message type.*"))
}

func TestLegacyPortLength(t *testing.T) {
	var m Message
	qt.Assert(t, qt.IsNil(m.UnmarshalBinary([]byte("\x00\x00\x00\x05\x09\x1a\xe1\x00\x00"))))
	qt.Check(t, qt.Equals(m.Port, 6881))
}

func TestPieceEmptyData(t *testing.T) {
	var m Message
	qt.Assert(t, qt.IsNil(m.UnmarshalBinary(MakePieceMessage(3, 0, nil).MustMarshalBinary())))
	qt.Check(t, qt.Equals(m.Index, 3))
	qt.Check(t, qt.HasLen(m.Piece, 0))
}

func TestNextMessageLength(t *testing.T) {
	n, ok := NextMessageLength(make([]byte, 10), false)
	qt.Check(t, qt.Equals(n, HandshakeLength))
	qt.Check(t, qt.IsFalse(ok))
	_, ok = NextMessageLength(make([]byte, 3), true)
	qt.Check(t, qt.IsFalse(ok))
	b := MakeHaveMessage(1).MustMarshalBinary()
	for i := range iter.N(len(b)) {
		n, ok = NextMessageLength(b[:i], true)
		qt.Check(t, qt.IsFalse(ok))
	}
	n, ok = NextMessageLength(append(b, 0, 0), true)
	qt.Check(t, qt.Equals(n, 9))
	qt.Check(t, qt.IsTrue(ok))
}

func BenchmarkDecodePieces(t *testing.B) {
	r, w := io.Pipe()
	const pieceLen = 1 << 14
	msg := MakePieceMessage(0, 1, make([]byte, pieceLen))
	b, err := msg.MarshalBinary()
	require.NoError(t, err)
	t.SetBytes(int64(len(b)))
	defer r.Close()
	go func() {
		defer w.Close()
		for {
			_, err := w.Write(b)
			if err == io.ErrClosedPipe {
				return
			}
		}
	}()
	d := Decoder{
		R:         bufio.NewReader(r),
		MaxLength: 1 << 18,
	}
	for range iter.N(t.N) {
		var msg Message
		require.NoError(t, d.Decode(&msg))
	}
}
