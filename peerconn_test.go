package torrent

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmd/torrent/metainfo"
	pp "github.com/swarmd/torrent/peer_protocol"
	"github.com/swarmd/torrent/storage"
)

// Records everything a connection reports.
type peerEvents struct {
	mu            sync.Mutex
	disconnects   int
	stateChanges  int
	requested     []DataRequest
	cancelled     []DataRequest
	received      []DataPackage
	disconnected  chan struct{}
	eventReceived chan struct{}
}

func newPeerEvents() *peerEvents {
	return &peerEvents{
		disconnected:  make(chan struct{}),
		eventReceived: make(chan struct{}, 100),
	}
}

func (me *peerEvents) handlers() peerConnHandlers {
	note := func(f func()) {
		me.mu.Lock()
		f()
		me.mu.Unlock()
		me.eventReceived <- struct{}{}
	}
	return peerConnHandlers{
		disconnected: func(*PeerConn) {
			note(func() { me.disconnects++ })
			close(me.disconnected)
		},
		stateChanged:   func(*PeerConn) { note(func() { me.stateChanges++ }) },
		blockRequested: func(r DataRequest) { note(func() { me.requested = append(me.requested, r) }) },
		blockCancelled: func(r DataRequest) { note(func() { me.cancelled = append(me.cancelled, r) }) },
		blockReceived:  func(p DataPackage) { note(func() { me.received = append(me.received, p) }) },
	}
}

var (
	testInfoHash = metainfo.HashBytes([]byte("test torrent"))
	// 3 pieces of 32KiB and a 1000 byte tail.
	testLayout = storage.Layout{
		PieceLength: 32 << 10,
		BlockSize:   storage.DefaultBlockSize,
		TotalLength: 3*32<<10 + 1000,
	}
)

func testPeerConnConfig(bitfield []bool) peerConnConfig {
	return peerConnConfig{
		infoHash:          testInfoHash,
		peerID:            generatePeerID("-SW0100-"),
		layout:            testLayout,
		bitfield:          func() []bool { return bitfield },
		keepAliveInterval: time.Minute,
		logger:            log.Default.FilterLevel(log.Critical),
	}
}

// The far end of a connection, speaking the wire protocol directly.
type testRemote struct {
	t    *testing.T
	conn net.Conn
	d    pp.Decoder
}

func newTestRemote(t *testing.T, conn net.Conn) *testRemote {
	return &testRemote{
		t:    t,
		conn: conn,
		d:    pp.Decoder{R: bufio.NewReader(conn), MaxLength: 1 << 20},
	}
}

func (me *testRemote) sendHandshake(infoHash metainfo.Hash) {
	_, err := me.conn.Write(pp.HandshakeMessage{
		InfoHash: infoHash,
		PeerID:   pp.PeerID(generatePeerID("-XX0000-")),
	}.MustMarshalBinary())
	require.NoError(me.t, err)
}

func (me *testRemote) readHandshake() pp.HandshakeMessage {
	b := make([]byte, pp.HandshakeLength)
	_, err := io.ReadFull(me.d.R, b)
	require.NoError(me.t, err)
	hs, err := pp.UnmarshalHandshake(b)
	require.NoError(me.t, err)
	return hs
}

func (me *testRemote) send(msg pp.Message) {
	_, err := me.conn.Write(msg.MustMarshalBinary())
	require.NoError(me.t, err)
}

func (me *testRemote) read() (msg pp.Message) {
	require.NoError(me.t, me.d.Decode(&msg))
	return
}

// Starts an incoming connection and completes the handshake from the remote side.
func newHandshakenPeerConn(t *testing.T, key string, bitfield []bool, handlers peerConnHandlers) (*PeerConn, *testRemote) {
	local, remote := net.Pipe()
	c := newPeerConn(key, local, false, testPeerConnConfig(bitfield), handlers)
	go c.connect(context.Background())
	r := newTestRemote(t, remote)
	t.Cleanup(func() {
		c.Close()
		remote.Close()
	})
	r.sendHandshake(testInfoHash)
	hs := r.readHandshake()
	require.EqualValues(t, testInfoHash, hs.InfoHash)
	msg := r.read()
	require.EqualValues(t, pp.Bitfield, msg.Type)
	return c, r
}

func waitEvents(t *testing.T, ev *peerEvents, n int) {
	for range n {
		select {
		case <-ev.eventReceived:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for peer event")
		}
	}
}

func TestHandshakeMismatchDisconnectsWithoutBitfield(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	ev := newPeerEvents()
	c := newPeerConn("1.2.3.4:5", local, false, testPeerConnConfig(make([]bool, 4)), ev.handlers())
	go c.connect(context.Background())
	r := newTestRemote(t, remote)
	r.sendHandshake(metainfo.HashBytes([]byte("some other torrent")))
	<-ev.disconnected
	// Nothing at all was sent back: no handshake and no bitfield.
	n, err := remote.Read(make([]byte, 1))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, peerConnClosed, c.getState())
	assert.ErrorContains(t, c.Err(), "info hash")
	c.Close()
	assert.Equal(t, 1, ev.disconnects)
}

func TestIncomingHandshakeRepliesWithBitfield(t *testing.T) {
	ev := newPeerEvents()
	c, r := newHandshakenPeerConn(t, "1.2.3.4:5", []bool{true, false, false, true}, ev.handlers())
	_ = r
	waitEvents(t, ev, 1)
	assert.True(t, c.handshakeComplete())
	assert.True(t, c.PeerID().Ok)
	assert.Equal(t, peerConnActive, c.getState())
}

func TestOutgoingSendsHandshakeFirst(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	ev := newPeerEvents()
	cfg := testPeerConnConfig(make([]bool, 4))
	c := newPeerConn("1.2.3.4:5", local, true, cfg, ev.handlers())
	defer c.Close()
	go c.connect(context.Background())
	r := newTestRemote(t, remote)
	hs := r.readHandshake()
	assert.EqualValues(t, testInfoHash, hs.InfoHash)
	assert.EqualValues(t, cfg.peerID, hs.PeerID)
	r.sendHandshake(testInfoHash)
	msg := r.read()
	assert.EqualValues(t, pp.Bitfield, msg.Type)
	waitEvents(t, ev, 1)
	assert.True(t, c.handshakeComplete())
}

func TestInboundMessagesUpdateState(t *testing.T) {
	ev := newPeerEvents()
	c, r := newHandshakenPeerConn(t, "1.2.3.4:5", make([]bool, 4), ev.handlers())
	waitEvents(t, ev, 1)

	assert.True(t, c.peerChoking())
	r.send(pp.Message{Type: pp.Unchoke})
	r.send(pp.Message{Type: pp.Interested})
	r.send(pp.MakeHaveMessage(3))
	r.send(pp.Message{Type: pp.Bitfield, Bitfield: []bool{true, false, false, false, false, false, false, false}})
	r.send(pp.Message{Keepalive: true})
	r.send(pp.Message{Type: pp.Port, Port: 6881})
	waitEvents(t, ev, 4)
	assert.False(t, c.peerChoking())
	assert.True(t, c.peerInterested())
	assert.True(t, c.hasPiece(0))
	assert.False(t, c.hasPiece(1))
	assert.True(t, c.hasPiece(3))
	assert.Equal(t, 2, c.piecesRequiredAvailable(func(int) bool { return false }))
	assert.Equal(t, 1, c.piecesRequiredAvailable(func(i int) bool { return i == 0 }))

	r.send(pp.MakeRequestMessage(3, 0, 1000))
	r.send(pp.MakeCancelMessage(3, 0, 1000))
	block := make([]byte, storage.DefaultBlockSize)
	r.send(pp.MakePieceMessage(1, storage.DefaultBlockSize, block))
	waitEvents(t, ev, 3)
	ev.mu.Lock()
	defer ev.mu.Unlock()
	require.Len(t, ev.requested, 1)
	assert.Equal(t, DataRequest{Peer: c, Piece: 3, Begin: 0, Length: 1000}, ev.requested[0])
	require.Len(t, ev.cancelled, 1)
	require.Len(t, ev.received, 1)
	assert.Equal(t, 1, ev.received[0].Piece)
	assert.Equal(t, 1, ev.received[0].Block)
	_, down := c.stats()
	assert.EqualValues(t, storage.DefaultBlockSize, down)
}

func TestChokeDiscardsOutstandingRequests(t *testing.T) {
	ev := newPeerEvents()
	c, r := newHandshakenPeerConn(t, "1.2.3.4:5", make([]bool, 4), ev.handlers())
	waitEvents(t, ev, 1)
	r.send(pp.Message{Type: pp.Unchoke})
	waitEvents(t, ev, 1)
	go func() {
		r.read()
	}()
	require.True(t, c.request(0, 1))
	assert.False(t, c.request(0, 1))
	assert.Equal(t, 1, c.blocksRequested())
	r.send(pp.Message{Type: pp.Choke})
	waitEvents(t, ev, 1)
	assert.Zero(t, c.blocksRequested())
}

func TestProtocolViolations(t *testing.T) {
	for _, tc := range []struct {
		name string
		msg  pp.Message
	}{
		{"have beyond pieces", pp.MakeHaveMessage(4)},
		{"short bitfield", pp.Message{Type: pp.Bitfield}},
		{"request past piece end", pp.MakeRequestMessage(3, 0, 1001)},
		{"oversized request", pp.MakeRequestMessage(0, 0, 3*storage.DefaultBlockSize)},
		{"misaligned block", pp.MakePieceMessage(0, 1, make([]byte, storage.DefaultBlockSize))},
		{"short block", pp.MakePieceMessage(0, 0, make([]byte, 10))},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ev := newPeerEvents()
			c, r := newHandshakenPeerConn(t, "1.2.3.4:5", make([]bool, 4), ev.handlers())
			r.send(tc.msg)
			select {
			case <-ev.disconnected:
			case <-time.After(5 * time.Second):
				t.Fatal("not disconnected")
			}
			assert.ErrorContains(t, c.Err(), "protocol violation")
		})
	}
}

func TestUnknownMessageDisconnects(t *testing.T) {
	ev := newPeerEvents()
	c, r := newHandshakenPeerConn(t, "1.2.3.4:5", make([]bool, 4), ev.handlers())
	_, err := r.conn.Write([]byte{0, 0, 0, 1, 20})
	require.NoError(t, err)
	<-ev.disconnected
	assert.ErrorContains(t, c.Err(), "unknown message type")
}

func TestPipelinedMessagesInOneWrite(t *testing.T) {
	ev := newPeerEvents()
	c, r := newHandshakenPeerConn(t, "1.2.3.4:5", make([]bool, 4), ev.handlers())
	waitEvents(t, ev, 1)
	var b []byte
	for i := range 4 {
		b = append(b, pp.MakeHaveMessage(pp.Integer(i)).MustMarshalBinary()...)
	}
	_, err := r.conn.Write(b)
	require.NoError(t, err)
	waitEvents(t, ev, 4)
	assert.True(t, c.completed())
}

func TestOutboundStateIdempotent(t *testing.T) {
	ev := newPeerEvents()
	c, r := newHandshakenPeerConn(t, "1.2.3.4:5", make([]bool, 4), ev.handlers())
	msgs := make(chan pp.Message, 10)
	go func() {
		for {
			var msg pp.Message
			if r.d.Decode(&msg) != nil {
				return
			}
			msgs <- msg
		}
	}()
	assert.False(t, c.sendChoke())
	assert.True(t, c.sendUnchoke())
	assert.False(t, c.sendUnchoke())
	assert.True(t, c.sendInterested())
	assert.False(t, c.sendInterested())
	assert.False(t, c.sendKeepAlive())
	assert.True(t, c.sendPiece(0, 0, []byte("hello")))
	for _, mt := range []pp.MessageType{pp.Unchoke, pp.Interested, pp.Piece} {
		select {
		case msg := <-msgs:
			assert.Equal(t, mt, msg.Type)
		case <-time.After(5 * time.Second):
			t.Fatalf("didn't receive %v", mt)
		}
	}
	up, _ := c.stats()
	assert.EqualValues(t, 5, up)
}

func TestMaxMessageLength(t *testing.T) {
	for _, tc := range []struct {
		numPieces int
		expected  int
	}{
		{0, 256 << 10},
		{4, 256 << 10},
		// A bitfield for this many pieces is 4+1+262144 bytes on the wire.
		{8 * (256 << 10), 5 + 256<<10},
		{8*(256<<10) + 1, 6 + 256<<10},
	} {
		assert.Equal(t, tc.expected, maxMessageLength(tc.numPieces), tc.numPieces)
	}
}

func TestOversizedMessageDisconnects(t *testing.T) {
	ev := newPeerEvents()
	c, r := newHandshakenPeerConn(t, "1.2.3.4:5", make([]bool, 4), ev.handlers())
	// Only the length prefix is needed for the message to be refused.
	_, err := r.conn.Write([]byte{0, 4, 0, 0})
	require.NoError(t, err)
	<-ev.disconnected
	assert.ErrorContains(t, c.Err(), "exceeds 262144")
}
