package metainfo

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/swarmd/torrent/bencode"
)

// MetaInfo is the contents of a .torrent file. See Load and LoadFromFile.
type MetaInfo struct {
	// The canonical bencoding of the info dictionary.
	InfoBytes    []byte
	Announce     string
	AnnounceList AnnounceList
	CreationDate int64
	Comment      string
	CreatedBy    string
	Encoding     string

	infoHash *Hash
}

// Load a MetaInfo from an io.Reader. Returns a non-nil error in case of
// failure.
func Load(r io.Reader) (*MetaInfo, error) {
	b, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, err
	}
	return Unmarshal(b)
}

// Convenience function for loading a MetaInfo from a file.
func LoadFromFile(filename string) (*MetaInfo, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	mi, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", filename, err)
	}
	return mi, nil
}

// Parses a whole .torrent file. The info dictionary is validated and its hash is computed here.
func Unmarshal(b []byte) (*MetaInfo, error) {
	v, err := bencode.Decode(b)
	if err != nil {
		return nil, err
	}
	d, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("metainfo is %T, not a dictionary", v)
	}
	infoVal, ok := d["info"]
	if !ok {
		return nil, errors.New("metainfo missing info dictionary")
	}
	if _, err := infoFromDict(infoVal); err != nil {
		return nil, fmt.Errorf("bad info dictionary: %w", err)
	}
	var mi MetaInfo
	// Decoding keeps every key, so re-encoding the dictionary yields the canonical bytes.
	mi.InfoBytes, err = bencode.Encode(infoVal)
	if err != nil {
		return nil, err
	}
	mi.Announce, _ = d["announce"].(string)
	if al, ok := d["announce-list"].([]any); ok {
		for _, tier := range al {
			var urls []string
			l, _ := tier.([]any)
			for _, u := range l {
				if s, ok := u.(string); ok {
					urls = append(urls, s)
				}
			}
			if len(urls) != 0 {
				mi.AnnounceList = append(mi.AnnounceList, urls)
			}
		}
	}
	mi.CreationDate, _ = d["creation date"].(int64)
	mi.Comment, _ = d["comment"].(string)
	mi.CreatedBy, _ = d["created by"].(string)
	mi.Encoding, _ = d["encoding"].(string)
	h := mi.HashInfoBytes()
	mi.infoHash = &h
	return &mi, nil
}

func (mi *MetaInfo) UnmarshalInfo() (Info, error) {
	return UnmarshalInfo(mi.InfoBytes)
}

func (mi *MetaInfo) HashInfoBytes() (infoHash Hash) {
	return HashBytes(mi.InfoBytes)
}

// The infohash, computed once.
func (mi *MetaInfo) InfoHash() Hash {
	if mi.infoHash == nil {
		h := mi.HashInfoBytes()
		mi.infoHash = &h
	}
	return *mi.infoHash
}

// Sets InfoBytes from info.
func (mi *MetaInfo) SetInfo(info *Info) (err error) {
	mi.InfoBytes, err = info.MarshalBencode()
	mi.infoHash = nil
	return
}

// Encode to bencoded form.
func (mi MetaInfo) Write(w io.Writer) error {
	info, err := bencode.Decode(mi.InfoBytes)
	if err != nil {
		return fmt.Errorf("decoding info bytes: %w", err)
	}
	d := map[string]any{"info": info}
	if mi.Announce != "" {
		d["announce"] = mi.Announce
	}
	if len(mi.AnnounceList) != 0 {
		var al []any
		for _, tier := range mi.AnnounceList {
			al = append(al, tier)
		}
		d["announce-list"] = al
	}
	if mi.CreationDate != 0 {
		d["creation date"] = mi.CreationDate
	}
	if mi.Comment != "" {
		d["comment"] = mi.Comment
	}
	if mi.CreatedBy != "" {
		d["created by"] = mi.CreatedBy
	}
	if mi.Encoding != "" {
		d["encoding"] = mi.Encoding
	}
	b, err := bencode.Encode(d)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Set good default values in preparation for creating a new MetaInfo file.
func (mi *MetaInfo) SetDefaults() {
	mi.CreatedBy = "github.com/swarmd/torrent"
	mi.CreationDate = time.Now().Unix()
}

// Returns the announce URLs, announce-list taking precedence over announce, without duplicates.
func (mi *MetaInfo) UpvertedAnnounceList() AnnounceList {
	if mi.AnnounceList.OverridesAnnounce(mi.Announce) {
		return mi.AnnounceList.Clone()
	}
	if mi.Announce != "" {
		return [][]string{{mi.Announce}}
	}
	return nil
}

// Every distinct tracker URL.
func (mi *MetaInfo) TrackerURLs() []string {
	al := mi.UpvertedAnnounceList()
	if mi.Announce != "" {
		al = append(al, []string{mi.Announce})
	}
	return al.DistinctValues()
}
