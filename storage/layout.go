package storage

import (
	"github.com/swarmd/torrent/metainfo"
)

// The unit of wire transfer within a piece.
const DefaultBlockSize = 1 << 14

// Piece and block geometry of a torrent. The final piece holds TotalLength%PieceLength bytes when
// that's nonzero, and the final block of a piece holds pieceSize%BlockSize bytes when that's
// nonzero. Every size computation goes through these methods so the tail rule is applied
// consistently.
type Layout struct {
	PieceLength int64
	BlockSize   int64
	TotalLength int64
}

func NewLayout(info *metainfo.Info) Layout {
	return Layout{
		PieceLength: info.PieceLength,
		BlockSize:   DefaultBlockSize,
		TotalLength: info.TotalLength(),
	}
}

func (l Layout) NumPieces() int {
	return int((l.TotalLength + l.PieceLength - 1) / l.PieceLength)
}

func (l Layout) PieceSize(piece int) int64 {
	if piece == l.NumPieces()-1 {
		if rem := l.TotalLength % l.PieceLength; rem != 0 {
			return rem
		}
	}
	return l.PieceLength
}

func (l Layout) PieceOffset(piece int) int64 {
	return int64(piece) * l.PieceLength
}

func (l Layout) BlockCount(piece int) int {
	return int((l.PieceSize(piece) + l.BlockSize - 1) / l.BlockSize)
}

// Blocks in a piece of nominal length. Used to give every block in the torrent a distinct index.
func (l Layout) BlocksPerPiece() int {
	return int((l.PieceLength + l.BlockSize - 1) / l.BlockSize)
}

func (l Layout) BlockLength(piece, block int) int64 {
	if block == l.BlockCount(piece)-1 {
		if rem := l.PieceSize(piece) % l.BlockSize; rem != 0 {
			return rem
		}
	}
	return l.BlockSize
}

// The block containing the piece offset begin.
func (l Layout) BlockIndex(begin int64) int {
	return int(begin / l.BlockSize)
}

// The offset of block into the torrent data.
func (l Layout) BlockOffset(piece, block int) int64 {
	return l.PieceOffset(piece) + int64(block)*l.BlockSize
}

// A torrent-wide block number, for keying per-block state in a single bitmap.
func (l Layout) BlockKey(piece, block int) uint32 {
	return uint32(piece*l.BlocksPerPiece() + block)
}

// Whether a remote's request fits inside the piece.
func (l Layout) ValidRequest(piece int, begin, length int64) bool {
	return piece >= 0 && piece < l.NumPieces() &&
		begin >= 0 && length > 0 && length <= 2*l.BlockSize &&
		begin+length <= l.PieceSize(piece)
}

// Whether received data is exactly one of our blocks.
func (l Layout) ValidBlock(piece int, begin int64, length int) bool {
	if piece < 0 || piece >= l.NumPieces() || begin < 0 || begin%l.BlockSize != 0 {
		return false
	}
	block := l.BlockIndex(begin)
	return block < l.BlockCount(piece) && int64(length) == l.BlockLength(piece, block)
}
