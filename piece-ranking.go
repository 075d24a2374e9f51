package torrent

import (
	"cmp"
	"math/rand/v2"
	"slices"
	"sort"

	"github.com/anacrolix/multiless"
)

// Upper bound of the random term added to each piece score.
const maxRankJitter = 0.1

type pieceRank struct {
	piece    int
	progress float64
	rarity   float64
	score    float64
}

type pieceRanker struct {
	numPieces int
	verified  func(piece int) bool
	// Fraction of the piece's blocks acquired.
	progress func(piece int) float64
	// Defaults to a uniform value in [0, maxRankJitter).
	jitter func() float64
}

func (me pieceRanker) jitterValue() float64 {
	if me.jitter != nil {
		return me.jitter()
	}
	return rand.Float64() * maxRankJitter
}

// Scores unverified pieces by how far along they are, how few peers have them, and a small random
// term, highest first. A piece with every block acquired scores no progress, since it's waiting on
// verification rather than data.
func (me pieceRanker) rank(peers []*PeerConn) []pieceRank {
	// Peers we haven't exchanged handshakes with have no advertised pieces yet.
	peers = slices.DeleteFunc(slices.Clone(peers), func(p *PeerConn) bool {
		return !p.handshakeComplete()
	})
	ret := make([]pieceRank, 0, me.numPieces)
	for piece := range me.numPieces {
		if me.verified(piece) {
			continue
		}
		r := pieceRank{piece: piece}
		r.progress = me.progress(piece)
		if r.progress >= 1 {
			r.progress = 0
		}
		if len(peers) != 0 {
			missing := 0
			for _, p := range peers {
				if !p.hasPiece(piece) {
					missing++
				}
			}
			r.rarity = float64(missing) / float64(len(peers))
		}
		r.score = r.progress + r.rarity + me.jitterValue()
		ret = append(ret, r)
	}
	sort.Slice(ret, func(i, j int) bool {
		l, r := ret[i], ret[j]
		return multiless.New().Cmp(
			cmp.Compare(r.score, l.score),
		).Int(
			l.piece, r.piece,
		).Less()
	})
	return ret
}
