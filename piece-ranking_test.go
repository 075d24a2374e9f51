package torrent

import (
	"testing"

	"github.com/bradfitz/iter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A peer past the handshake that has the given pieces.
func rankingPeer(pieces ...int) *PeerConn {
	c := &PeerConn{
		state:             peerConnActive,
		handshakeSent:     true,
		handshakeReceived: true,
	}
	for _, p := range pieces {
		c.peerPieces.Add(uint32(p))
	}
	return c
}

func testRanker(numPieces int, progress map[int]float64, verified ...int) pieceRanker {
	return pieceRanker{
		numPieces: numPieces,
		verified: func(piece int) bool {
			for _, v := range verified {
				if v == piece {
					return true
				}
			}
			return false
		},
		progress: func(piece int) float64 { return progress[piece] },
		jitter:   func() float64 { return 0 },
	}
}

func rankedPieces(ranks []pieceRank) (ret []int) {
	for _, r := range ranks {
		ret = append(ret, r.piece)
	}
	return
}

func TestRankRarestFirst(t *testing.T) {
	r := testRanker(3, nil)
	peers := []*PeerConn{rankingPeer(0, 1, 2), rankingPeer(0, 1), rankingPeer(0)}
	ranks := r.rank(peers)
	assert.Equal(t, []int{2, 1, 0}, rankedPieces(ranks))
	assert.InDelta(t, 2.0/3, ranks[0].rarity, 1e-9)
	assert.Zero(t, ranks[2].rarity)
}

func TestRankProgressAndVerified(t *testing.T) {
	r := testRanker(4, map[int]float64{1: 0.5, 2: 1, 3: 0.25}, 0)
	ranks := r.rank(nil)
	// Verified pieces aren't ranked, and a fully acquired piece counts as no progress.
	assert.Equal(t, []int{1, 3, 2}, rankedPieces(ranks))
	for _, rank := range ranks {
		assert.Zero(t, rank.rarity)
	}
	assert.Zero(t, ranks[2].progress)
}

func TestRankIgnoresPeersWithoutHandshake(t *testing.T) {
	r := testRanker(2, nil)
	pending := &PeerConn{state: peerConnHandshakePending}
	ranks := r.rank([]*PeerConn{rankingPeer(0, 1), pending})
	for _, rank := range ranks {
		assert.Zero(t, rank.rarity)
	}
}

func TestRankNoPeerHasPiece(t *testing.T) {
	r := testRanker(2, nil)
	ranks := r.rank([]*PeerConn{rankingPeer(0)})
	require.Equal(t, []int{1, 0}, rankedPieces(ranks))
	assert.EqualValues(t, 1, ranks[0].rarity)
}

func TestRankJitterBounded(t *testing.T) {
	r := testRanker(50, nil)
	r.jitter = nil
	for range iter.N(10) {
		for _, rank := range r.rank(nil) {
			j := rank.score - rank.progress - rank.rarity
			assert.GreaterOrEqual(t, j, 0.0)
			assert.Less(t, j, maxRankJitter)
		}
	}
}
