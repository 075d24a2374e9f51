package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLayoutTail(t *testing.T) {
	const pieceLength = 3*DefaultBlockSize + 100
	l := Layout{PieceLength: pieceLength, BlockSize: DefaultBlockSize, TotalLength: 4*pieceLength + 5000}
	assert.Equal(t, 5, l.NumPieces())
	for i := 0; i < 4; i++ {
		assert.EqualValues(t, pieceLength, l.PieceSize(i))
		assert.Equal(t, 4, l.BlockCount(i))
		assert.EqualValues(t, DefaultBlockSize, l.BlockLength(i, 0))
		assert.EqualValues(t, 100, l.BlockLength(i, 3))
	}
	assert.EqualValues(t, 5000, l.PieceSize(4))
	assert.Equal(t, 1, l.BlockCount(4))
	assert.EqualValues(t, 5000, l.BlockLength(4, 0))
	assert.EqualValues(t, 4*pieceLength, l.PieceOffset(4))
	assert.EqualValues(t, pieceLength+DefaultBlockSize, l.BlockOffset(1, 1))
	assert.Equal(t, 4, l.BlocksPerPiece())
	assert.EqualValues(t, 9, l.BlockKey(2, 1))
}

func TestLayoutExactMultiple(t *testing.T) {
	l := Layout{PieceLength: 2 * DefaultBlockSize, BlockSize: DefaultBlockSize, TotalLength: 6 * DefaultBlockSize}
	assert.Equal(t, 3, l.NumPieces())
	assert.EqualValues(t, 2*DefaultBlockSize, l.PieceSize(2))
	assert.EqualValues(t, DefaultBlockSize, l.BlockLength(2, 1))
}

func TestLayoutValidation(t *testing.T) {
	l := Layout{PieceLength: 2 * DefaultBlockSize, BlockSize: DefaultBlockSize, TotalLength: 3*DefaultBlockSize + 10}
	assert.True(t, l.ValidRequest(0, 0, DefaultBlockSize))
	assert.True(t, l.ValidRequest(1, DefaultBlockSize, 10))
	assert.False(t, l.ValidRequest(1, DefaultBlockSize, 11))
	assert.False(t, l.ValidRequest(2, 0, 1))
	assert.False(t, l.ValidRequest(0, 0, 0))
	assert.True(t, l.ValidBlock(1, DefaultBlockSize, 10))
	assert.False(t, l.ValidBlock(1, DefaultBlockSize, DefaultBlockSize))
	assert.False(t, l.ValidBlock(0, 1, DefaultBlockSize))
	assert.False(t, l.ValidBlock(0, 2*DefaultBlockSize, DefaultBlockSize))
}
