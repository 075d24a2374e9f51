package torrent

import (
	"math/rand/v2"

	"github.com/anacrolix/log"

	pp "github.com/swarmd/torrent/peer_protocol"
)

// Cancels the block with anyone else we asked for it. The sender's request stays outstanding until the block is written, so a pass that runs before
// then doesn't ask anyone for it again.
func (cl *Client) onBlockReceived(pkg DataPackage) {
	for _, p := range cl.peersSnapshot() {
		if p == pkg.Peer {
			continue
		}
		if p.cancel(pkg.Piece, pkg.Block) {
			requestsSent.WithLabelValues(pp.Cancel.String()).Inc()
		}
	}
	cl.downloads.push(pkg)
	cl.downloadLoop.trigger()
}

func (cl *Client) ranker() pieceRanker {
	return pieceRanker{
		numPieces: cl.layout.NumPieces(),
		verified:  cl.storage.PieceVerified,
		progress:  cl.storage.Progress,
	}
}

// Writes received blocks, then requests more in ranked piece order from the seeders.
func (cl *Client) downloadPass() {
	for {
		pkg, ok := cl.downloads.pop()
		if !ok {
			break
		}
		cl.writeBlock(pkg)
	}
	if cl.storage.Completed() {
		return
	}
	seeders := cl.seedersSnapshot()
	if len(seeders) == 0 {
		return
	}
	peers := cl.peersSnapshot()
	for _, r := range cl.ranker().rank(peers) {
		rand.Shuffle(len(seeders), func(i, j int) {
			seeders[i], seeders[j] = seeders[j], seeders[i]
		})
		for _, s := range seeders {
			if !s.hasPiece(r.piece) {
				continue
			}
			if !cl.requestBlocks(s, r.piece, peers) {
				return
			}
		}
	}
}

// Requests the first block of the piece that nobody has been asked for, if the seeder has nothing
// outstanding. Returns false once the download throttle is limited.
func (cl *Client) requestBlocks(s *PeerConn, piece int, peers []*PeerConn) bool {
	for block := range cl.layout.BlockCount(piece) {
		if cl.storage.BlockAcquired(piece, block) {
			continue
		}
		if cl.downloadThrottle.Limited() {
			return false
		}
		if anyRequested(peers, piece, block) {
			continue
		}
		// One request in flight per peer.
		if s.blocksRequested() != 0 {
			return true
		}
		if s.request(piece, block) {
			requestsSent.WithLabelValues(pp.Request.String()).Inc()
			cl.downloadThrottle.Record(int(cl.layout.BlockLength(piece, block)))
		}
	}
	return true
}

func anyRequested(peers []*PeerConn, piece, block int) bool {
	for _, p := range peers {
		if p.blockRequested(piece, block) {
			return true
		}
	}
	return false
}

func (cl *Client) writeBlock(pkg DataPackage) {
	defer pkg.Peer.setBlockRequested(pkg.Piece, pkg.Block, false)
	if cl.storage.PieceVerified(pkg.Piece) || cl.storage.BlockAcquired(pkg.Piece, pkg.Block) {
		return
	}
	err := cl.storage.WriteBlock(pkg.Piece, pkg.Block, pkg.Data)
	if err != nil {
		cl.logger.Levelf(log.Error, "writing %v: %v", pkg, err)
		return
	}
	cl.downloaded.Add(int64(len(pkg.Data)))
	bytesDownloaded.Add(float64(len(pkg.Data)))
}

// Called by storage when a piece first passes its hash check.
func (cl *Client) onPieceVerified(piece int) {
	piecesVerified.Inc()
	cl.config.Callbacks.pieceVerified(piece)
	if !cl.started.Load() {
		return
	}
	for _, p := range cl.peersSnapshot() {
		if p.handshakeComplete() {
			p.sendHave(piece)
		}
	}
	cl.peerLoop.trigger()
	if cl.storage.Completed() {
		cl.logger.Levelf(log.Info, "download complete")
		cl.complete.Set()
		// Runs on the download loop, so Close waits for it before announcing stopped.
		if cl.completedAnnounced.CompareAndSwap(false, true) {
			cl.goroutines.Go(func() error {
				cl.announceCompleted()
				return nil
			})
		}
	}
}
