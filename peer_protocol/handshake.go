package peer_protocol

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"

	"github.com/swarmd/torrent/metainfo"
)

var ErrBadHandshake = errors.New("bad handshake")

type (
	PeerExtensionBits [8]byte
	PeerID            [20]byte
)

func (me PeerID) String() string {
	return fmt.Sprintf("%+q", me[:])
}

func (me PeerExtensionBits) String() string {
	return hex.EncodeToString(me[:])
}

// The 68 byte message that opens a connection in each direction.
type HandshakeMessage struct {
	Reserved PeerExtensionBits
	InfoHash metainfo.Hash
	PeerID   PeerID
}

func (me HandshakeMessage) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, HandshakeLength)
	b = append(b, Protocol...)
	b = append(b, me.Reserved[:]...)
	b = append(b, me.InfoHash[:]...)
	b = append(b, me.PeerID[:]...)
	return b, nil
}

func (me HandshakeMessage) MustMarshalBinary() []byte {
	b, _ := me.MarshalBinary()
	return b
}

// Validates the length and the protocol string. Reserved bits are recorded but not interpreted.
func UnmarshalHandshake(b []byte) (ret HandshakeMessage, err error) {
	if len(b) != HandshakeLength {
		err = errors.Wrapf(ErrBadHandshake, "length %d", len(b))
		return
	}
	if string(b[:len(Protocol)]) != Protocol {
		err = errors.Wrapf(ErrBadHandshake, "unexpected protocol string %q", b[:len(Protocol)])
		return
	}
	b = b[len(Protocol):]
	copy(ret.Reserved[:], b[:8])
	copy(ret.InfoHash[:], b[8:28])
	copy(ret.PeerID[:], b[28:48])
	return
}
