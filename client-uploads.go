package torrent

import (
	"github.com/anacrolix/log"
)

func (cl *Client) onBlockRequested(r DataRequest) {
	cl.uploads.push(r)
	cl.uploadLoop.trigger()
}

func (cl *Client) onBlockCancelled(r DataRequest) {
	cl.uploads.remove(func(q DataRequest) bool {
		return q.Peer == r.Peer && q.Piece == r.Piece && q.Begin == r.Begin && q.Length == r.Length
	})
	cl.uploadLoop.trigger()
}

// Serves queued requests until the upload throttle says stop. Requests that are left over wait for
// a later pass.
func (cl *Client) uploadPass() {
	for !cl.uploadThrottle.Limited() {
		r, ok := cl.uploads.pop()
		if !ok {
			return
		}
		cl.serveRequest(r)
	}
}

func (cl *Client) serveRequest(r DataRequest) {
	if r.Peer.closed.IsSet() {
		return
	}
	// Requests that arrive while we choke the peer are discarded, as the peer expects.
	if r.Peer.isChoking() {
		cl.logger.Levelf(log.Debug, "dropping %v: peer is choked", r)
		return
	}
	if !cl.storage.PieceVerified(r.Piece) {
		cl.logger.Levelf(log.Debug, "dropping %v: piece not verified", r)
		return
	}
	data, err := cl.storage.ReadBlock(r.Piece, r.Begin, r.Length)
	if err != nil {
		cl.logger.Levelf(log.Error, "reading block for %v: %v", r, err)
		return
	}
	if !r.Peer.sendPiece(r.Piece, r.Begin, data) {
		return
	}
	cl.uploadThrottle.Record(len(data))
	cl.uploaded.Add(int64(len(data)))
	bytesUploaded.Add(float64(len(data)))
}
