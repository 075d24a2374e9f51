package peer_protocol

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"fmt"
	"io"
)

// This is a lazy union representing all the possible fields for messages. Go doesn't have ADTs, and
// I didn't choose to use type-assertions. Fields are ordered to minimize struct size and padding.
type Message struct {
	Piece []byte
	// Decoded bitfields hold every bit of the payload, including padding. See Message.PiecesHave.
	Bitfield             []bool
	Index, Begin, Length Integer
	Port                 uint16
	Type                 MessageType
	Keepalive            bool
}

var _ interface {
	encoding.BinaryUnmarshaler
	encoding.BinaryMarshaler
} = (*Message)(nil)

func MakeRequestMessage(piece, offset, length Integer) Message {
	return Message{
		Type:   Request,
		Index:  piece,
		Begin:  offset,
		Length: length,
	}
}

func MakeCancelMessage(piece, offset, length Integer) Message {
	return Message{
		Type:   Cancel,
		Index:  piece,
		Begin:  offset,
		Length: length,
	}
}

func MakeHaveMessage(piece Integer) Message {
	return Message{
		Type:  Have,
		Index: piece,
	}
}

func MakePieceMessage(piece, offset Integer, data []byte) Message {
	return Message{
		Type:  Piece,
		Index: piece,
		Begin: offset,
		Piece: data,
	}
}

func (msg Message) RequestSpec() (ret RequestSpec) {
	return RequestSpec{
		msg.Index,
		msg.Begin,
		func() Integer {
			if msg.Type == Piece {
				return Integer(len(msg.Piece))
			} else {
				return msg.Length
			}
		}(),
	}
}

func (msg Message) MustMarshalBinary() []byte {
	b, err := msg.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return b
}

// Writes the message without its length prefix.
func (msg Message) WriteTo(w io.Writer) (n int64, err error) {
	dw := newDataWriter(w)
	defer func() {
		n = dw.n
	}()

	err = dw.WriteByte(byte(msg.Type))
	if err != nil {
		return
	}

	switch msg.Type {
	case Choke, Unchoke, Interested, NotInterested:
	case Have:
		err = dw.BinaryWrite(msg.Index)
	case Request, Cancel:
		for _, i := range []Integer{msg.Index, msg.Begin, msg.Length} {
			err = dw.BinaryWrite(i)
			if err != nil {
				break
			}
		}
	case Bitfield:
		_, err = dw.Write(MarshalBitfield(msg.Bitfield))
	case Piece:
		for _, i := range []Integer{msg.Index, msg.Begin} {
			err = dw.BinaryWrite(i)
			if err != nil {
				return
			}
		}
		_, err = dw.Write(msg.Piece)
	case Port:
		err = dw.BinaryWrite(msg.Port)
	default:
		err = fmt.Errorf("unknown message type: %v", msg.Type)
	}
	return
}

func (msg Message) MarshalBinary() (data []byte, err error) {
	var buf bytes.Buffer
	if !msg.Keepalive {
		_, err = msg.WriteTo(&buf)
		if err != nil {
			return
		}
	}
	data = make([]byte, 4+buf.Len())
	binary.BigEndian.PutUint32(data, uint32(buf.Len()))
	copy(data[4:], buf.Bytes())
	return
}

// Decodes exactly one framed message.
func (me *Message) UnmarshalBinary(b []byte) error {
	if len(b) < 4 {
		return io.ErrUnexpectedEOF
	}
	length := binary.BigEndian.Uint32(b)
	if uint64(len(b)-4) != uint64(length) {
		return fmt.Errorf("length prefix %d but %d bytes follow", length, len(b)-4)
	}
	*me = Message{}
	if length == 0 {
		me.Keepalive = true
		return nil
	}
	return me.unmarshalPayload(b[4:])
}

// The piece availability in a bitfield message, given the torrent's piece count. It's an error if
// the payload isn't exactly the number of bytes needed to hold numPieces bits. Padding bits are
// ignored.
func (msg Message) PiecesHave(numPieces int) ([]bool, error) {
	if len(msg.Bitfield) != (numPieces+7)/8*8 {
		return nil, fmt.Errorf("bitfield has %d bits, expected %d bytes for %d pieces", len(msg.Bitfield), (numPieces+7)/8, numPieces)
	}
	return msg.Bitfield[:numPieces], nil
}

func (msg Message) String() string {
	if msg.Keepalive {
		return "KeepAlive"
	}
	switch msg.Type {
	case Have:
		return fmt.Sprintf("Have(%d)", msg.Index)
	case Request, Cancel:
		return fmt.Sprintf("%v%v", msg.Type, msg.RequestSpec())
	case Piece:
		return fmt.Sprintf("Piece(%d, %d, len %d)", msg.Index, msg.Begin, len(msg.Piece))
	case Bitfield:
		return fmt.Sprintf("Bitfield(%d bits)", len(msg.Bitfield))
	case Port:
		return fmt.Sprintf("Port(%d)", msg.Port)
	default:
		return msg.Type.String()
	}
}

// Piece i is bit 7-i%8 of byte i/8.
func MarshalBitfield(bf []bool) (b []byte) {
	b = make([]byte, (len(bf)+7)/8)
	for i, have := range bf {
		if !have {
			continue
		}
		c := b[i/8]
		c |= 1 << uint(7-i%8)
		b[i/8] = c
	}
	return
}

func UnmarshalBitfield(b []byte) (bf []bool) {
	bf = make([]bool, 0, len(b)*8)
	for _, c := range b {
		for i := 7; i >= 0; i-- {
			bf = append(bf, (c>>uint(i))&1 == 1)
		}
	}
	return
}

type dataWriter struct {
	writer io.Writer
	n      int64
}

func (d *dataWriter) BinaryWrite(data any) error {
	err := binary.Write(d.writer, binary.BigEndian, data)
	if err != nil {
		return err
	}
	d.n += int64(binary.Size(data))
	return nil
}

func (d *dataWriter) Write(bytes []byte) (int, error) {
	n, err := d.writer.Write(bytes)
	d.n += int64(n)
	return n, err
}

func (d *dataWriter) WriteByte(b byte) error {
	_, err := d.Write([]byte{b})
	return err
}

func newDataWriter(writer io.Writer) *dataWriter {
	return &dataWriter{writer, 0}
}
