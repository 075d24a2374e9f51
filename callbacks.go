package torrent

// These are called synchronously from the goroutine that observed the event, and do not pass
// ownership. nil functions are not called.
type Callbacks struct {
	// After a handshake with the right info hash has been received.
	PeerConnected func(*PeerConn)
	// Once per connection, however it ended.
	PeerDisconnected func(*PeerConn)
	// When a piece first passes its hash check.
	PieceVerified func(piece int)
}

func (me Callbacks) peerConnected(c *PeerConn) {
	if me.PeerConnected != nil {
		me.PeerConnected(c)
	}
}

func (me Callbacks) peerDisconnected(c *PeerConn) {
	if me.PeerDisconnected != nil {
		me.PeerDisconnected(c)
	}
}

func (me Callbacks) pieceVerified(piece int) {
	if me.PieceVerified != nil {
		me.PieceVerified(piece)
	}
}
