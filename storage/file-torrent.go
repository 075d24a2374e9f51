package storage

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2/panicif"
	"golang.org/x/sync/errgroup"

	"github.com/swarmd/torrent/metainfo"
	"github.com/swarmd/torrent/segments"
)

type file struct {
	path   string
	length int64
	// Writers hold it exclusively. Verification holds it shared for every file of the piece.
	mu sync.RWMutex
}

type TorrentOpts struct {
	// The download directory. Single file torrents are placed directly in it, multi-file torrents
	// in a subdirectory named for the torrent.
	Dir string
	// Optional. Verification results are recorded here, and trusted at startup.
	PieceCompletion PieceCompletion
	// Called after a piece goes from unverified to verified. Must not block for long.
	OnPieceVerified func(piece int)
	// Defaults to log.Default.
	Logger *log.Logger
}

// Maps the piece and block address space of a torrent onto its files, and tracks which blocks have
// been written and which pieces have passed their hash check.
type Torrent struct {
	Layout
	info            *metainfo.Info
	infoHash        metainfo.Hash
	files           []file
	index           segments.Index
	completion      PieceCompletion
	onPieceVerified func(int)
	logger          log.Logger

	mu       sync.RWMutex
	verified roaring.Bitmap
	// Keyed by Layout.BlockKey.
	acquired roaring.Bitmap
}

// Returns an error if a path from the metadata would escape the download directory.
func safeJoin(parts ...string) (string, error) {
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `/\`) {
			return "", fmt.Errorf("unsafe path component %q", p)
		}
	}
	return filepath.Join(parts...), nil
}

func NewTorrent(info *metainfo.Info, infoHash metainfo.Hash, opts TorrentOpts) (*Torrent, error) {
	t := &Torrent{
		Layout:          NewLayout(info),
		info:            info,
		infoHash:        infoHash,
		index:           info.FileSegmentsIndex(),
		completion:      opts.PieceCompletion,
		onPieceVerified: opts.OnPieceVerified,
		logger:          log.Default,
	}
	if opts.Logger != nil {
		t.logger = *opts.Logger
	}
	t.logger = t.logger.WithNames("storage")
	if t.NumPieces() != info.NumPieces() {
		return nil, fmt.Errorf("%d piece hashes for %d pieces", info.NumPieces(), t.NumPieces())
	}
	files := info.UpvertedFiles()
	t.files = make([]file, len(files))
	for i, fi := range files {
		var rel string
		var err error
		if info.IsDir() {
			rel, err = safeJoin(append([]string{info.Name}, fi.Path...)...)
		} else {
			rel, err = safeJoin(info.Name)
		}
		if err != nil {
			return nil, err
		}
		t.files[i].path = filepath.Join(opts.Dir, rel)
		t.files[i].length = fi.Length
	}
	return t, nil
}

func (t *Torrent) InfoHash() metainfo.Hash {
	return t.infoHash
}

// Reads part of a verified or unverified piece.
func (t *Torrent) ReadBlock(piece int, begin, length int64) ([]byte, error) {
	panicif.True(begin+length > t.PieceSize(piece))
	return t.ReadRange(t.PieceOffset(piece)+begin, length)
}

// Writes the block, marks it acquired and then verifies the piece. An error is only returned if
// the write failed.
func (t *Torrent) WriteBlock(piece, block int, data []byte) error {
	if int64(len(data)) != t.BlockLength(piece, block) {
		return fmt.Errorf("block %d of piece %d has length %d, expected %d", block, piece, len(data), t.BlockLength(piece, block))
	}
	err := t.WriteRange(t.BlockOffset(piece, block), data)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.acquired.Add(t.BlockKey(piece, block))
	t.mu.Unlock()
	t.Verify(piece)
	return nil
}

// Reads the piece holding the locks of every file it spans, so a write to any of them can't land
// halfway through the read.
func (t *Torrent) readPiece(piece int) ([]byte, error) {
	e := segments.Extent{Start: t.PieceOffset(piece), Length: t.PieceSize(piece)}
	var spanned []int
	for i := range t.index.LocateIter(e) {
		spanned = append(spanned, i)
	}
	// Ascending file order, so concurrent verifications can't deadlock against each other.
	for _, i := range spanned {
		t.files[i].mu.RLock()
	}
	defer func() {
		for _, i := range spanned {
			t.files[i].mu.RUnlock()
		}
	}()
	b := make([]byte, e.Length)
	var pos int64
	for i, fe := range t.index.LocateIter(e) {
		err := t.readFileAt(&t.files[i], b[pos:pos+fe.Length], fe.Start)
		if err != nil {
			return nil, err
		}
		pos += fe.Length
	}
	return b, nil
}

func (t *Torrent) blockRange(piece int) (start, end uint64) {
	start = uint64(t.BlockKey(piece, 0))
	end = start + uint64(t.BlockCount(piece))
	return
}

// Hashes the piece and updates the verification state. A match marks every block acquired. A
// mismatch on a fully acquired piece discards all its blocks so they are fetched again, while a
// partial piece keeps what it has. Data that can't be read leaves block state alone.
func (t *Torrent) Verify(piece int) bool {
	b, readErr := t.readPiece(piece)
	match := readErr == nil && sha1.Sum(b) == t.info.PieceHash(piece)
	start, end := t.blockRange(piece)
	t.mu.Lock()
	wasVerified := t.verified.Contains(uint32(piece))
	full := false
	switch {
	case match:
		t.verified.Add(uint32(piece))
		t.acquired.AddRange(start, end)
	case readErr != nil:
		t.verified.Remove(uint32(piece))
	default:
		t.verified.Remove(uint32(piece))
		full = t.acquiredLocked(start, end) == int(end-start)
		if full {
			t.acquired.RemoveRange(start, end)
		}
	}
	t.mu.Unlock()
	if readErr != nil && !errors.Is(readErr, ErrNotPresent) {
		t.logger.Levelf(log.Error, "reading piece %d: %v", piece, readErr)
	} else if readErr == nil && !match {
		t.logger.Levelf(log.Debug, "piece %d failed hash check", piece)
	}
	// Only a changed state or a whole piece failing is worth a write to the completion store.
	if readErr == nil && (match != wasVerified || full) {
		t.recordCompletion(piece, match)
	}
	if match && !wasVerified && t.onPieceVerified != nil {
		t.onPieceVerified(piece)
	}
	return match
}

func (t *Torrent) recordCompletion(piece int, complete bool) {
	if t.completion == nil {
		return
	}
	err := t.completion.Set(PieceKey{t.infoHash, piece}, complete)
	if err != nil {
		t.logger.Levelf(log.Warning, "recording completion of piece %d: %v", piece, err)
	}
}

// Establishes the verified state of every piece from existing data, hashing up to concurrency
// pieces at a time. Pieces recorded as complete in the PieceCompletion are trusted if their files
// are all present at full length.
func (t *Torrent) VerifyAll(ctx context.Context, concurrency int) error {
	var eg errgroup.Group
	eg.SetLimit(max(concurrency, 1))
	for piece := range t.NumPieces() {
		if ctx.Err() != nil {
			break
		}
		if t.trustedComplete(piece) {
			t.markVerified(piece)
			continue
		}
		eg.Go(func() error {
			if ctx.Err() == nil {
				t.Verify(piece)
			}
			return nil
		})
	}
	eg.Wait()
	return ctx.Err()
}

func (t *Torrent) trustedComplete(piece int) bool {
	if t.completion == nil {
		return false
	}
	c, err := t.completion.Get(PieceKey{t.infoHash, piece})
	return err == nil && c.Ok && c.Complete && t.pieceFilesPresent(piece)
}

func (t *Torrent) markVerified(piece int) {
	start, end := t.blockRange(piece)
	t.mu.Lock()
	t.verified.Add(uint32(piece))
	t.acquired.AddRange(start, end)
	t.mu.Unlock()
}

func (t *Torrent) PieceVerified(piece int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.verified.Contains(uint32(piece))
}

func (t *Torrent) BlockAcquired(piece, block int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.acquired.Contains(t.BlockKey(piece, block))
}

func (t *Torrent) NumVerified() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return int(t.verified.GetCardinality())
}

func (t *Torrent) Completed() bool {
	return t.NumVerified() == t.NumPieces()
}

// Whether any piece has been verified.
func (t *Torrent) Started() bool {
	return t.NumVerified() > 0
}

// The fraction of the piece's blocks acquired.
func (t *Torrent) Progress(piece int) float64 {
	start, end := t.blockRange(piece)
	t.mu.RLock()
	defer t.mu.RUnlock()
	return float64(t.acquiredLocked(start, end)) / float64(end-start)
}

func (t *Torrent) acquiredLocked(start, end uint64) (n int) {
	for k := start; k < end; k++ {
		if t.acquired.Contains(uint32(k)) {
			n++
		}
	}
	return
}

func (t *Torrent) BytesCompleted() (n int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	it := t.verified.Iterator()
	for it.HasNext() {
		n += t.PieceSize(int(it.Next()))
	}
	return
}

func (t *Torrent) BytesLeft() int64 {
	return t.TotalLength - t.BytesCompleted()
}

// Verified state of every piece, for sending in a bitfield message.
func (t *Torrent) VerifiedBitfield() []bool {
	bf := make([]bool, t.NumPieces())
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.verified.ToArray() {
		bf[p] = true
	}
	return bf
}

// A short description for logs and status output.
func (t *Torrent) String() string {
	return fmt.Sprintf("%s: %d/%d pieces", t.info.Name, t.NumVerified(), t.NumPieces())
}
