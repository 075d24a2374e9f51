package peer_protocol

import (
	"fmt"
)

type MessageType byte

const (
	Protocol = "\x13BitTorrent protocol"
	// The handshake has no length prefix, and is always this long.
	HandshakeLength = len(Protocol) + 8 + 20 + 20
)

// BEP 3 message IDs.
const (
	Choke         MessageType = iota
	Unchoke                   // 1
	Interested                // 2
	NotInterested             // 3
	Have                      // 4
	Bitfield                  // 5
	Request                   // 6
	Piece                     // 7
	Cancel                    // 8
	Port                      // 9. BEP 5, decoded and ignored.
)

var messageTypeNames = [...]string{
	Choke:         "Choke",
	Unchoke:       "Unchoke",
	Interested:    "Interested",
	NotInterested: "NotInterested",
	Have:          "Have",
	Bitfield:      "Bitfield",
	Request:       "Request",
	Piece:         "Piece",
	Cancel:        "Cancel",
	Port:          "Port",
}

func (mt MessageType) String() string {
	if int(mt) < len(messageTypeNames) {
		return messageTypeNames[mt]
	}
	return fmt.Sprintf("MessageType(%d)", byte(mt))
}

// The fixed payload length for the type, including the ID byte, or -1 if it varies.
func (mt MessageType) fixedLength() int {
	switch mt {
	case Choke, Unchoke, Interested, NotInterested:
		return 1
	case Have:
		return 5
	case Request, Cancel:
		return 13
	case Port:
		return 3
	default:
		return -1
	}
}

// Identifies a block transfer: the piece, the offset into it, and the length.
type RequestSpec struct {
	Index, Begin, Length Integer
}

func (me RequestSpec) String() string {
	return fmt.Sprintf("{%d %d %d}", me.Index, me.Begin, me.Length)
}
