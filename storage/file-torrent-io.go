package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/swarmd/torrent/segments"
)

// Returned by reads that touch data that hasn't been written yet. It's the expected signal for a
// missing block, not a failure.
var ErrNotPresent = fmt.Errorf("data not present: %w", fs.ErrNotExist)

const (
	filePerm = 0o640
	dirPerm  = 0o755
)

// Reads exactly len(b) bytes at off. A missing or short file is ErrNotPresent. The caller holds
// the file's lock.
func (t *Torrent) readFileAt(f *file, b []byte, off int64) error {
	osf, err := os.Open(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotPresent
	}
	if err != nil {
		return err
	}
	defer osf.Close()
	n, err := osf.ReadAt(b, off)
	if n == len(b) {
		return nil
	}
	if err == io.EOF {
		return fmt.Errorf("%w: %q is short", ErrNotPresent, f.path)
	}
	return err
}

// Copies the torrent bytes [off, off+n) from every file overlapping them.
func (t *Torrent) ReadRange(off, n int64) ([]byte, error) {
	b := make([]byte, n)
	var pos int64
	for i, e := range t.index.LocateIter(segments.Extent{Start: off, Length: n}) {
		f := &t.files[i]
		f.mu.RLock()
		err := t.readFileAt(f, b[pos:pos+e.Length], e.Start)
		f.mu.RUnlock()
		if err != nil {
			return nil, err
		}
		pos += e.Length
	}
	if pos != n {
		return nil, fmt.Errorf("range [%d, %d) exceeds torrent length %d", off, off+n, t.TotalLength)
	}
	return b, nil
}

func (t *Torrent) openForWrite(f *file) (osf *os.File, err error) {
	osf, err = os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE, filePerm)
	if err == nil {
		return
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return
	}
	err = os.MkdirAll(filepath.Dir(f.path), dirPerm)
	if err != nil {
		return
	}
	return os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE, filePerm)
}

func (t *Torrent) writeFileAt(f *file, p []byte, off int64) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	osf, err := t.openForWrite(f)
	if err != nil {
		return
	}
	n, err := osf.WriteAt(p, off)
	closeErr := osf.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n != len(p) {
		err = io.ErrShortWrite
	}
	return
}

// Writes p at torrent offset off, splitting it across files. Writes to a file are serialized by
// that file's lock only.
func (t *Torrent) WriteRange(off int64, p []byte) error {
	if off+int64(len(p)) > t.TotalLength {
		return fmt.Errorf("write [%d, %d) exceeds torrent length %d", off, off+int64(len(p)), t.TotalLength)
	}
	for i, e := range t.index.LocateIter(segments.Extent{Start: off, Length: int64(len(p))}) {
		err := t.writeFileAt(&t.files[i], p[:e.Length], e.Start)
		if err != nil {
			return fmt.Errorf("writing %q: %w", t.files[i].path, err)
		}
		p = p[e.Length:]
	}
	return nil
}

// Whether every file the piece spans exists with at least its full length.
func (t *Torrent) pieceFilesPresent(piece int) bool {
	for i := range t.index.LocateIter(segments.Extent{Start: t.PieceOffset(piece), Length: t.PieceSize(piece)}) {
		fi, err := os.Stat(t.files[i].path)
		if err != nil || fi.Size() < t.files[i].length {
			return false
		}
	}
	return true
}
