package metainfo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/swarmd/torrent/bencode"
	"github.com/swarmd/torrent/segments"
)

// The info dictionary. See BEP 3.
type Info struct {
	PieceLength int64
	// Concatenated SHA1 piece hashes.
	Pieces []byte
	// For multi-file torrents, the directory the files are placed under.
	Name string
	// Mutually exclusive with Files.
	Length  int64
	Private *bool
	Files   []FileInfo
}

// The Info.Name field is "advisory". When a torrent is built from a path with no usable base name
// we use this sentinel instead.
const NoName = "-"

// This is a helper that sets Files and Pieces from a root path and its children.
func (info *Info) BuildFromFilePath(root string) (err error) {
	info.Name = func() string {
		b := filepath.Base(root)
		switch b {
		case ".", "..", string(filepath.Separator):
			return NoName
		default:
			return b
		}
	}()
	info.Files = nil
	info.Length = 0
	err = filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			// Directories are implicit in torrent files.
			return nil
		} else if path == root {
			// The root is a file.
			info.Length = fi.Size()
			return nil
		}
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("error getting relative path: %w", err)
		}
		info.Files = append(info.Files, FileInfo{
			Path:   strings.Split(relPath, string(filepath.Separator)),
			Length: fi.Size(),
		})
		return nil
	})
	if err != nil {
		return
	}
	sort.Slice(info.Files, func(i, j int) bool {
		l, r := info.Files[i], info.Files[j]
		return strings.Join(l.Path, "/") < strings.Join(r.Path, "/")
	})
	if info.PieceLength == 0 {
		info.PieceLength = ChoosePieceLength(info.TotalLength())
	}
	err = info.GeneratePieces(func(fi FileInfo) (io.ReadCloser, error) {
		if !info.IsDir() {
			return os.Open(root)
		}
		return os.Open(filepath.Join(root, filepath.Join(fi.Path...)))
	})
	if err != nil {
		err = fmt.Errorf("error generating pieces: %w", err)
	}
	return
}

// Concatenates all the files in the torrent into w. open is a function that
// gets at the contents of the given file.
func (info *Info) writeFiles(w io.Writer, open func(fi FileInfo) (io.ReadCloser, error)) error {
	for _, fi := range info.UpvertedFiles() {
		r, err := open(fi)
		if err != nil {
			return fmt.Errorf("error opening %v: %w", fi.Path, err)
		}
		wn, err := io.CopyN(w, r, fi.Length)
		r.Close()
		if wn != fi.Length {
			return fmt.Errorf("error copying %v: %w", fi.Path, err)
		}
	}
	return nil
}

// Sets Pieces (the block of piece hashes in the Info) by using the passed
// function to get at the torrent data.
func (info *Info) GeneratePieces(open func(fi FileInfo) (io.ReadCloser, error)) (err error) {
	if info.PieceLength <= 0 {
		return errors.New("piece length must be positive")
	}
	pr, pw := io.Pipe()
	go func() {
		err := info.writeFiles(pw, open)
		pw.CloseWithError(err)
	}()
	defer pr.Close()
	info.Pieces, err = GeneratePieces(pr, info.PieceLength, nil)
	return
}

func (info *Info) TotalLength() (ret int64) {
	for _, fi := range info.UpvertedFiles() {
		ret += fi.Length
	}
	return
}

func (info *Info) NumPieces() int {
	return len(info.Pieces) / HashSize
}

// The expected SHA1 of piece i.
func (info *Info) PieceHash(i int) (ret Hash) {
	copy(ret[:], info.Pieces[i*HashSize:(i+1)*HashSize])
	return
}

func (info *Info) Piece(index int) Piece {
	return Piece{info, index}
}

// Whether the files are placed in a directory named by Info.Name.
func (info *Info) IsDir() bool {
	return len(info.Files) != 0
}

// The files field, converted up from the old single-file in the parent info dict if necessary. This
// is a helper to avoid having to conditionally handle single and multi-file torrent infos. Offsets
// into the torrent data are filled in.
func (info *Info) UpvertedFiles() (files []FileInfo) {
	if len(info.Files) == 0 {
		return []FileInfo{{
			Length: info.Length,
			// Callers should determine that Info.Name is the basename, and
			// thus a regular file.
			Path: nil,
		}}
	}
	var offset int64
	for _, fi := range info.Files {
		fi.TorrentOffset = offset
		offset += fi.Length
		files = append(files, fi)
	}
	return
}

func (info *Info) FileSegmentsIndex() segments.Index {
	var es []segments.Extent
	for _, fi := range info.UpvertedFiles() {
		es = append(es, segments.Extent{Start: fi.TorrentOffset, Length: fi.Length})
	}
	return segments.NewIndexFromSegments(es)
}

// Checks the internal consistency of the info dictionary.
func (info *Info) Validate() error {
	if info.PieceLength <= 0 {
		return fmt.Errorf("bad piece length: %d", info.PieceLength)
	}
	if len(info.Pieces)%HashSize != 0 {
		return fmt.Errorf("pieces has length %d, not a multiple of %d", len(info.Pieces), HashSize)
	}
	if info.Name == "" {
		return errors.New("missing name")
	}
	if info.Length != 0 && len(info.Files) != 0 {
		return errors.New("info has both length and files")
	}
	total := info.TotalLength()
	if expected := (total + info.PieceLength - 1) / info.PieceLength; int64(info.NumPieces()) != expected {
		return fmt.Errorf("expected %d piece hashes for %d bytes, got %d", expected, total, info.NumPieces())
	}
	return nil
}

func (info *Info) toDict() map[string]any {
	d := map[string]any{
		"name":         info.Name,
		"piece length": info.PieceLength,
		"pieces":       info.Pieces,
	}
	if info.IsDir() {
		var files []any
		for _, fi := range info.Files {
			files = append(files, fi.toDict())
		}
		d["files"] = files
	} else {
		d["length"] = info.Length
	}
	if info.Private != nil {
		var p int64
		if *info.Private {
			p = 1
		}
		d["private"] = p
	}
	return d
}

// The canonical bencoding of the info dictionary. Its SHA1 is the infohash.
func (info *Info) MarshalBencode() ([]byte, error) {
	return bencode.Encode(info.toDict())
}

func infoFromDict(v any) (info Info, err error) {
	d, ok := v.(map[string]any)
	if !ok {
		err = fmt.Errorf("info is %T, not a dictionary", v)
		return
	}
	info.PieceLength, _ = d["piece length"].(int64)
	pieces, ok := d["pieces"].(string)
	if !ok {
		err = errors.New("info missing pieces")
		return
	}
	info.Pieces = []byte(pieces)
	info.Name, _ = d["name"].(string)
	if p, ok := d["private"].(int64); ok {
		b := p == 1
		info.Private = &b
	}
	length, hasLength := d["length"].(int64)
	files, hasFiles := d["files"].([]any)
	switch {
	case hasFiles:
		if len(files) == 0 {
			err = errors.New("info has empty files list")
			return
		}
		for i, f := range files {
			var fi FileInfo
			fi, err = fileInfoFromDict(f)
			if err != nil {
				err = fmt.Errorf("file %d: %w", i, err)
				return
			}
			info.Files = append(info.Files, fi)
		}
	case hasLength:
		if length < 0 {
			err = fmt.Errorf("bad length: %d", length)
			return
		}
		info.Length = length
	default:
		err = errors.New("info has neither length nor files")
		return
	}
	err = info.Validate()
	return
}

// Parses a bencoded info dictionary.
func UnmarshalInfo(b []byte) (info Info, err error) {
	v, err := bencode.Decode(b)
	if err != nil {
		return
	}
	return infoFromDict(v)
}
