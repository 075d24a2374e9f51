package peer_protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

var ErrMessageTooLong = errors.New("message too long")

// A message's length disagrees with the fixed size of its type.
type LengthError struct {
	Type   MessageType
	Length int
}

func (me LengthError) Error() string {
	return fmt.Sprintf("bad length %d for message type %v", me.Length, me.Type)
}

type Decoder struct {
	R *bufio.Reader
	// Largest acceptable length prefix. Zero means no limit.
	MaxLength Integer
}

// io.EOF is returned if the source terminates cleanly on a message boundary.
func (d *Decoder) Decode(msg *Message) (err error) {
	var length Integer
	err = length.Read(d.R)
	if err != nil {
		return errors.Wrap(err, "reading message length")
	}
	if d.MaxLength != 0 && length > d.MaxLength {
		return ErrMessageTooLong
	}
	*msg = Message{}
	if length == 0 {
		msg.Keepalive = true
		return
	}
	b := make([]byte, length)
	_, err = io.ReadFull(d.R, b)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return errors.Wrapf(err, "reading %d byte message", length)
	}
	return msg.unmarshalPayload(b)
}

// Parses the ID byte and everything after it, checking the length against the shape of the
// message type.
func (msg *Message) unmarshalPayload(b []byte) error {
	msg.Type = MessageType(b[0])
	length := len(b)
	if fixed := msg.Type.fixedLength(); fixed != -1 && length != fixed {
		// Some clients send the port message with the old 4-byte port field.
		if !(msg.Type == Port && length == 5) {
			return LengthError{Type: msg.Type, Length: length}
		}
	}
	b = b[1:]
	switch msg.Type {
	case Choke, Unchoke, Interested, NotInterested:
	case Have:
		msg.Index = Integer(binary.BigEndian.Uint32(b))
	case Request, Cancel:
		msg.Index = Integer(binary.BigEndian.Uint32(b[0:4]))
		msg.Begin = Integer(binary.BigEndian.Uint32(b[4:8]))
		msg.Length = Integer(binary.BigEndian.Uint32(b[8:12]))
	case Bitfield:
		msg.Bitfield = UnmarshalBitfield(b)
	case Piece:
		if length < 9 {
			return LengthError{Type: msg.Type, Length: length}
		}
		msg.Index = Integer(binary.BigEndian.Uint32(b[0:4]))
		msg.Begin = Integer(binary.BigEndian.Uint32(b[4:8]))
		msg.Piece = append([]byte(nil), b[8:]...)
	case Port:
		msg.Port = binary.BigEndian.Uint16(b)
	default:
		return fmt.Errorf("unknown message type %#v", byte(msg.Type))
	}
	return nil
}

// Returns the total byte length of the next whole message at the head of buf, including any length
// prefix, and whether that many bytes are present. Until the handshake has been received, the next
// message is always the 68 byte handshake. Otherwise at least the 4 byte prefix must be buffered
// before the length is known.
func NextMessageLength(buf []byte, handshakeReceived bool) (n int, ok bool) {
	if !handshakeReceived {
		return HandshakeLength, len(buf) >= HandshakeLength
	}
	if len(buf) < 4 {
		return 0, false
	}
	n = 4 + int(binary.BigEndian.Uint32(buf))
	return n, len(buf) >= n
}
