package metainfo

import (
	"crypto/sha1"
	"fmt"
	"io"
)

type Piece struct {
	Info *Info
	i    PieceIndex
}

func (p Piece) String() string {
	return fmt.Sprintf("metainfo.Piece(Info.Name=%q, i=%v)", p.Info.Name, p.i)
}

type PieceIndex = int

// The last piece holds whatever remains of the torrent data.
func (p Piece) Length() int64 {
	if p.i == p.Info.NumPieces()-1 {
		if rem := p.Info.TotalLength() % p.Info.PieceLength; rem != 0 {
			return rem
		}
	}
	return p.Info.PieceLength
}

func (p Piece) Offset() int64 {
	return int64(p.i) * p.Info.PieceLength
}

func (p Piece) Hash() Hash {
	return p.Info.PieceHash(p.i)
}

func (p Piece) Index() int {
	return p.i
}

// Hashes r in pieceLength chunks, appending the digests to b.
func GeneratePieces(r io.Reader, pieceLength int64, b []byte) ([]byte, error) {
	for {
		h := sha1.New()
		written, err := io.CopyN(h, r, pieceLength)
		if written > 0 {
			b = h.Sum(b)
		}
		if err == io.EOF {
			return b, nil
		}
		if err != nil {
			return b, err
		}
	}
}

const (
	minPieceLength = 16 << 10
	maxPieceLength = 16 << 20
	// Roughly the number of pieces a created torrent aims for.
	targetPieceCount = 1 << 10
)

// Picks a power-of-two piece length for a torrent of the given total size.
func ChoosePieceLength(totalLength int64) (pieceLength int64) {
	pieceLength = minPieceLength
	for pieceLength < maxPieceLength && totalLength/pieceLength > targetPieceCount {
		pieceLength *= 2
	}
	return
}
