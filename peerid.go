package torrent

import (
	"crypto/rand"
	"encoding/hex"

	pp "github.com/swarmd/torrent/peer_protocol"
)

type PeerID pp.PeerID

func (me PeerID) String() string {
	if me[0] == '-' && me[7] == '-' {
		return string(me[:8]) + hex.EncodeToString(me[8:])
	}
	return hex.EncodeToString(me[:])
}

// Fills what the prefix doesn't cover with random bytes. A prefix of 20 bytes or more is
// truncated and used verbatim.
func generatePeerID(prefix string) (ret PeerID) {
	n := copy(ret[:], prefix)
	rand.Read(ret[n:])
	return
}
