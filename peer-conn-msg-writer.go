package torrent

import (
	"bytes"
	"io"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"

	pp "github.com/swarmd/torrent/peer_protocol"
)

// Buffers outbound bytes so that senders never block on the socket. A single goroutine drains the
// buffer to the connection.
type peerConnMsgWriter struct {
	closed *chansync.SetOnce
	logger log.Logger
	w      io.Writer
	// Called once if a write fails.
	onError func(error)

	mu        sync.Mutex
	writeCond chansync.BroadcastCond
	// Pointer so we can swap with the "front buffer".
	writeBuffer *bytes.Buffer
	lastWrite   time.Time
}

func newPeerConnMsgWriter(w io.Writer, closed *chansync.SetOnce, logger log.Logger, onError func(error)) *peerConnMsgWriter {
	return &peerConnMsgWriter{
		closed:      closed,
		logger:      logger,
		w:           w,
		onError:     onError,
		writeBuffer: new(bytes.Buffer),
		lastWrite:   time.Now(),
	}
}

// Routine that writes to the peer. Returns when the connection is closed or a write fails.
func (cn *peerConnMsgWriter) run() {
	frontBuf := new(bytes.Buffer)
	for {
		if cn.closed.IsSet() {
			return
		}
		cn.mu.Lock()
		if cn.writeBuffer.Len() == 0 {
			writeCond := cn.writeCond.Signaled()
			cn.mu.Unlock()
			select {
			case <-cn.closed.Done():
			case <-writeCond:
			}
			continue
		}
		// Flip the buffers.
		frontBuf, cn.writeBuffer = cn.writeBuffer, frontBuf
		cn.mu.Unlock()
		_, err := frontBuf.WriteTo(cn.w)
		if err != nil {
			cn.logger.WithDefaultLevel(log.Debug).Printf("error writing: %v", err)
			if cn.onError != nil {
				cn.onError(err)
			}
			return
		}
	}
}

func (cn *peerConnMsgWriter) writeBytes(b []byte) bool {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed.IsSet() {
		return false
	}
	cn.writeBuffer.Write(b)
	cn.lastWrite = time.Now()
	cn.writeCond.Broadcast()
	return true
}

func (cn *peerConnMsgWriter) write(msg pp.Message) bool {
	return cn.writeBytes(msg.MustMarshalBinary())
}

// Time since something was last queued for the peer.
func (cn *peerConnMsgWriter) quiescence() time.Duration {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return time.Since(cn.lastWrite)
}
