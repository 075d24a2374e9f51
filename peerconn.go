package torrent

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/chansync"
	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"
	"golang.org/x/time/rate"

	"github.com/swarmd/torrent/metainfo"
	pp "github.com/swarmd/torrent/peer_protocol"
	"github.com/swarmd/torrent/storage"
)

type peerConnState int

const (
	peerConnConnecting peerConnState = iota
	peerConnHandshakePending
	peerConnActive
	peerConnClosed
)

func (me peerConnState) String() string {
	switch me {
	case peerConnConnecting:
		return "connecting"
	case peerConnHandshakePending:
		return "handshake pending"
	case peerConnActive:
		return "active"
	case peerConnClosed:
		return "closed"
	default:
		return fmt.Sprintf("peerConnState(%d)", int(me))
	}
}

// Events a connection reports to its owner. They're called from the connection's read goroutine,
// except disconnected which is called from whichever goroutine closed it.
type peerConnHandlers struct {
	disconnected   func(*PeerConn)
	stateChanged   func(*PeerConn)
	blockRequested func(DataRequest)
	blockCancelled func(DataRequest)
	blockReceived  func(DataPackage)
}

// What a connection needs to know about the local side.
type peerConnConfig struct {
	infoHash metainfo.Hash
	peerID   PeerID
	layout   storage.Layout
	// The local verified pieces, sent after the handshake.
	bitfield          func() []bool
	keepAliveInterval time.Duration
	dialTimeout       time.Duration
	dialRateLimiter   *rate.Limiter
	logger            log.Logger
}

// Maintains the state of a BitTorrent-protocol based connection with a peer.
type PeerConn struct {
	// Remote endpoint as host:port. At most one connection per key is registered.
	key      string
	outgoing bool
	config   peerConnConfig
	handlers peerConnHandlers
	logger   log.Logger

	messageWriter *peerConnMsgWriter
	closed        chansync.SetOnce
	// Set once the owner has been told the peer connected.
	connectedReported atomic.Bool

	mu    sync.RWMutex
	conn  net.Conn
	state peerConnState
	err   error

	peerID            g.Option[PeerID]
	handshakeSent     bool
	handshakeReceived bool
	bitfieldSent      bool

	// Choking and interest, from our side and theirs. Connections start choked and uninterested
	// both ways.
	chokeSent          bool
	chokeReceived      bool
	interestedSent     bool
	interestedReceived bool

	// Pieces the peer has advertised. Bits are only ever set.
	peerPieces roaring.Bitmap
	// Our outstanding requests to the peer, keyed by storage.Layout.BlockKey.
	requested roaring.Bitmap

	uploaded    int64
	downloaded  int64
	lastActive  time.Time
	connectedAt time.Time
}

func newPeerConn(key string, conn net.Conn, outgoing bool, config peerConnConfig, handlers peerConnHandlers) *PeerConn {
	c := &PeerConn{
		key:           key,
		outgoing:      outgoing,
		config:        config,
		handlers:      handlers,
		conn:          conn,
		chokeSent:     true,
		chokeReceived: true,
		lastActive:    time.Now(),
	}
	direction := "in"
	if outgoing {
		direction = "out"
	}
	c.logger = config.logger.WithNames("peerconn").WithContextValue(fmt.Sprintf("%v(%v)", key, direction))
	return c
}

func (c *PeerConn) String() string {
	return fmt.Sprintf("%v (%v)", c.key, c.getState())
}

func (c *PeerConn) RemoteAddr() string {
	return c.key
}

func (c *PeerConn) dial(ctx context.Context) (net.Conn, error) {
	if c.config.dialRateLimiter != nil {
		if err := c.config.dialRateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	dialer := net.Dialer{Timeout: c.config.dialTimeout}
	return dialer.DialContext(ctx, "tcp", c.key)
}

// Dials if the connection is outgoing, then runs the read loop until the connection closes. The
// owner's handlers must be in place before this is called.
func (c *PeerConn) connect(ctx context.Context) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		var err error
		conn, err = c.dial(ctx)
		if err != nil {
			c.closeWithErr(fmt.Errorf("dialing: %w", err))
			return
		}
	}
	c.mu.Lock()
	c.conn = conn
	if c.closed.IsSet() {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.state = peerConnHandshakePending
	c.connectedAt = time.Now()
	c.lastActive = c.connectedAt
	c.messageWriter = newPeerConnMsgWriter(conn, &c.closed, c.logger, c.closeWithErr)
	if c.outgoing {
		c.sendHandshakeLocked()
	}
	c.mu.Unlock()
	go c.messageWriter.run()
	c.readLoop(conn)
}

// Accumulates bytes from the socket and dispatches every whole message available before reading
// again.
func (c *PeerConn) readLoop(conn net.Conn) {
	var readBuf [1 << 14]byte
	buf := make([]byte, 0, 2*len(readBuf))
	maxLen := maxMessageLength(c.config.layout.NumPieces())
	for {
		n, readErr := conn.Read(readBuf[:])
		buf = append(buf, readBuf[:n]...)
		off := 0
		for !c.closed.IsSet() {
			msgLen, ok := pp.NextMessageLength(buf[off:], c.gotHandshake())
			if msgLen > maxLen {
				c.protocolViolation(fmt.Errorf("message length %d exceeds %d", msgLen, maxLen))
				return
			}
			if !ok {
				break
			}
			if err := c.dispatch(buf[off : off+msgLen]); err != nil {
				c.protocolViolation(err)
				return
			}
			off += msgLen
		}
		buf = append(buf[:0], buf[off:]...)
		if readErr != nil {
			c.closeWithErr(fmt.Errorf("reading: %w", readErr))
			return
		}
		if c.closed.IsSet() {
			return
		}
	}
}

func (c *PeerConn) gotHandshake() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handshakeReceived
}

func (c *PeerConn) protocolViolation(err error) {
	protocolViolations.Inc()
	c.closeWithErr(fmt.Errorf("protocol violation: %w", err))
}

// Handles one whole message, as sliced off by the read loop.
func (c *PeerConn) dispatch(b []byte) error {
	if !c.gotHandshake() {
		return c.onHandshake(b)
	}
	var msg pp.Message
	if err := msg.UnmarshalBinary(b); err != nil {
		return err
	}
	layout := c.config.layout
	c.mu.Lock()
	c.lastActive = time.Now()
	if msg.Keepalive {
		c.mu.Unlock()
		return nil
	}
	stateChanged := false
	switch msg.Type {
	case pp.Port:
	case pp.Choke:
		c.chokeReceived = true
		// Requests are discarded by a peer when it chokes us.
		c.requested.Clear()
		stateChanged = true
	case pp.Unchoke:
		c.chokeReceived = false
		stateChanged = true
	case pp.Interested:
		c.interestedReceived = true
		stateChanged = true
	case pp.NotInterested:
		c.interestedReceived = false
		stateChanged = true
	case pp.Have:
		if msg.Index.Int() >= layout.NumPieces() {
			c.mu.Unlock()
			return fmt.Errorf("have for piece %v beyond %v pieces", msg.Index, layout.NumPieces())
		}
		c.peerPieces.Add(msg.Index.Uint32())
		stateChanged = true
	case pp.Bitfield:
		have, err := msg.PiecesHave(layout.NumPieces())
		if err != nil {
			c.mu.Unlock()
			return err
		}
		for i, h := range have {
			if h {
				c.peerPieces.Add(uint32(i))
			}
		}
		stateChanged = true
	case pp.Request, pp.Cancel:
		c.mu.Unlock()
		req := DataRequest{
			Peer:   c,
			Piece:  msg.Index.Int(),
			Begin:  msg.Begin.Int64(),
			Length: msg.Length.Int64(),
		}
		if !layout.ValidRequest(req.Piece, req.Begin, req.Length) {
			return fmt.Errorf("invalid %v", msg)
		}
		if msg.Type == pp.Request {
			c.handlers.blockRequested(req)
		} else {
			c.handlers.blockCancelled(req)
		}
		return nil
	case pp.Piece:
		piece, begin := msg.Index.Int(), msg.Begin.Int64()
		if !layout.ValidBlock(piece, begin, len(msg.Piece)) {
			c.mu.Unlock()
			return fmt.Errorf("invalid %v", msg)
		}
		c.downloaded += int64(len(msg.Piece))
		c.mu.Unlock()
		c.handlers.blockReceived(DataPackage{
			Peer:  c,
			Piece: piece,
			Block: layout.BlockIndex(begin),
			Data:  msg.Piece,
		})
		return nil
	default:
		c.mu.Unlock()
		return fmt.Errorf("unexpected %v", msg.Type)
	}
	c.mu.Unlock()
	if stateChanged {
		c.handlers.stateChanged(c)
	}
	return nil
}

func (c *PeerConn) onHandshake(b []byte) error {
	hs, err := pp.UnmarshalHandshake(b)
	if err != nil {
		return err
	}
	if hs.InfoHash != c.config.infoHash {
		return fmt.Errorf("handshake for info hash %v, expected %v", hs.InfoHash, c.config.infoHash)
	}
	c.mu.Lock()
	if c.handshakeReceived {
		c.mu.Unlock()
		return fmt.Errorf("second handshake")
	}
	c.handshakeReceived = true
	c.peerID = g.Some(PeerID(hs.PeerID))
	c.lastActive = time.Now()
	c.sendHandshakeLocked()
	c.sendBitfieldLocked()
	c.state = peerConnActive
	c.mu.Unlock()
	c.logger.Levelf(log.Debug, "handshake from %v", PeerID(hs.PeerID))
	c.handlers.stateChanged(c)
	return nil
}

// Close disconnects the peer. The disconnected handler is called once, whoever closes first.
func (c *PeerConn) Close() {
	c.closeWithErr(nil)
}

func (c *PeerConn) closeWithErr(err error) {
	if !c.closed.Set() {
		return
	}
	c.mu.Lock()
	c.state = peerConnClosed
	c.err = err
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if err != nil {
		c.logger.Levelf(log.Debug, "closed: %v", err)
	} else {
		c.logger.Levelf(log.Debug, "closed")
	}
	if c.handlers.disconnected != nil {
		c.handlers.disconnected(c)
	}
}

// Done is closed when the connection is.
func (c *PeerConn) Done() <-chan struct{} {
	return c.closed.Done()
}

// Why the connection closed, if it has and it was due to an error.
func (c *PeerConn) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// The remote's peer ID, once its handshake has arrived.
func (c *PeerConn) PeerID() g.Option[PeerID] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerID
}

func (c *PeerConn) getState() peerConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Handshakes have been exchanged in both directions.
func (c *PeerConn) handshakeComplete() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handshakeSent && c.handshakeReceived && c.state == peerConnActive
}

func (c *PeerConn) lastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive
}

func (c *PeerConn) hasPiece(piece int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerPieces.Contains(uint32(piece))
}

// The peer has every piece.
func (c *PeerConn) completed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerPieces.GetCardinality() == uint64(c.config.layout.NumPieces())
}

// How many of the pieces we still need the peer has.
func (c *PeerConn) piecesRequiredAvailable(verified func(int) bool) (n int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it := c.peerPieces.Iterator()
	for it.HasNext() {
		if !verified(int(it.Next())) {
			n++
		}
	}
	return
}

func (c *PeerConn) blocksRequested() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int(c.requested.GetCardinality())
}

func (c *PeerConn) blockRequested(piece, block int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.requested.Contains(c.config.layout.BlockKey(piece, block))
}

// Sets or clears the outstanding request flag for a block, returning whether it changed.
func (c *PeerConn) setBlockRequested(piece, block int, requested bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.config.layout.BlockKey(piece, block)
	if requested {
		return c.requested.CheckedAdd(key)
	}
	return c.requested.CheckedRemove(key)
}

func (c *PeerConn) isChoking() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chokeSent
}

func (c *PeerConn) peerChoking() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chokeReceived
}

func (c *PeerConn) peerInterested() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.interestedReceived
}

func (c *PeerConn) stats() (uploaded, downloaded int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uploaded, c.downloaded
}

// Queues a message if the handshake has gone out. Must hold mu.
func (c *PeerConn) writeLocked(msg pp.Message) bool {
	if !c.handshakeSent || c.messageWriter == nil {
		return false
	}
	return c.messageWriter.write(msg)
}

func (c *PeerConn) sendHandshakeLocked() {
	if c.handshakeSent {
		return
	}
	c.handshakeSent = c.messageWriter.writeBytes(pp.HandshakeMessage{
		InfoHash: c.config.infoHash,
		PeerID:   pp.PeerID(c.config.peerID),
	}.MustMarshalBinary())
}

// At most once per connection.
func (c *PeerConn) sendBitfieldLocked() {
	if c.bitfieldSent {
		return
	}
	c.bitfieldSent = c.writeLocked(pp.Message{
		Type:     pp.Bitfield,
		Bitfield: c.config.bitfield(),
	})
}

// Sends a keep alive if nothing has been written for the keep alive interval.
func (c *PeerConn) sendKeepAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.messageWriter == nil || c.messageWriter.quiescence() < c.config.keepAliveInterval {
		return false
	}
	return c.writeLocked(pp.Message{Keepalive: true})
}

func (c *PeerConn) setChoking(choke bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chokeSent == choke {
		return false
	}
	msg := pp.Message{Type: pp.Unchoke}
	if choke {
		msg.Type = pp.Choke
	}
	if !c.writeLocked(msg) {
		return false
	}
	c.chokeSent = choke
	return true
}

func (c *PeerConn) sendChoke() bool   { return c.setChoking(true) }
func (c *PeerConn) sendUnchoke() bool { return c.setChoking(false) }

func (c *PeerConn) setInterested(interested bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interestedSent == interested {
		return false
	}
	msg := pp.Message{Type: pp.NotInterested}
	if interested {
		msg.Type = pp.Interested
	}
	if !c.writeLocked(msg) {
		return false
	}
	c.interestedSent = interested
	return true
}

func (c *PeerConn) sendInterested() bool    { return c.setInterested(true) }
func (c *PeerConn) sendNotInterested() bool { return c.setInterested(false) }

func (c *PeerConn) sendHave(piece int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(pp.MakeHaveMessage(pp.Integer(piece)))
}

// Sends a request or cancel for a block. Request bookkeeping is the caller's.
func (c *PeerConn) sendRequest(mt pp.MessageType, piece int, begin, length int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(pp.Message{
		Type:   mt,
		Index:  pp.Integer(piece),
		Begin:  pp.Integer(begin),
		Length: pp.Integer(length),
	})
}

// Requests a block and marks it outstanding, unless it already was.
func (c *PeerConn) request(piece, block int) bool {
	layout := c.config.layout
	if !c.setBlockRequested(piece, block, true) {
		return false
	}
	if !c.sendRequest(pp.Request, piece, layout.BlockOffset(piece, block)-layout.PieceOffset(piece), layout.BlockLength(piece, block)) {
		c.setBlockRequested(piece, block, false)
		return false
	}
	return true
}

// Cancels an outstanding request for a block, if there is one.
func (c *PeerConn) cancel(piece, block int) bool {
	layout := c.config.layout
	if !c.setBlockRequested(piece, block, false) {
		return false
	}
	return c.sendRequest(pp.Cancel, piece, layout.BlockOffset(piece, block)-layout.PieceOffset(piece), layout.BlockLength(piece, block))
}

func (c *PeerConn) sendPiece(piece int, begin int64, data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.writeLocked(pp.MakePieceMessage(pp.Integer(piece), pp.Integer(begin), data)) {
		return false
	}
	c.uploaded += int64(len(data))
	return true
}
