package storage

import (
	"os"

	"github.com/anacrolix/log"

	"github.com/swarmd/torrent/metainfo"
)

type PieceKey struct {
	InfoHash metainfo.Hash
	Index    int
}

type Completion struct {
	Complete bool
	// Whether the completion state is known.
	Ok bool
}

type PieceCompletionGetSetter interface {
	Get(PieceKey) (Completion, error)
	Set(_ PieceKey, complete bool) error
}

// Implementations track the completion of pieces. It must be concurrent-safe.
type PieceCompletion interface {
	PieceCompletionGetSetter
	Close() error
}

// Opens a persistent completion store in dir, falling back to memory if that fails.
func PieceCompletionForDir(dir string, logger log.Logger) (ret PieceCompletion) {
	os.MkdirAll(dir, 0o700)
	ret, err := NewBoltPieceCompletion(dir)
	if err != nil {
		logger.Levelf(log.Warning, "couldn't open piece completion db in %q: %s", dir, err)
		ret = NewMapPieceCompletion()
	}
	return
}
