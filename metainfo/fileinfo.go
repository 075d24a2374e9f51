package metainfo

import (
	"fmt"
	"strings"
)

// Information specific to a single file inside the MetaInfo structure.
type FileInfo struct {
	Length int64
	Path   []string
	// Offset of the file's first byte in the concatenated torrent data. Only set by
	// Info.UpvertedFiles.
	TorrentOffset int64
}

func (fi *FileInfo) DisplayPath(info *Info) string {
	if info.IsDir() {
		return strings.Join(fi.Path, "/")
	}
	return info.Name
}

func (fi FileInfo) toDict() map[string]any {
	return map[string]any{
		"length": fi.Length,
		"path":   fi.Path,
	}
}

func fileInfoFromDict(v any) (fi FileInfo, err error) {
	d, ok := v.(map[string]any)
	if !ok {
		err = fmt.Errorf("file entry is %T, not a dictionary", v)
		return
	}
	fi.Length, ok = d["length"].(int64)
	if !ok || fi.Length < 0 {
		err = fmt.Errorf("file entry has bad length: %v", d["length"])
		return
	}
	path, ok := d["path"].([]any)
	if !ok || len(path) == 0 {
		err = fmt.Errorf("file entry has bad path: %v", d["path"])
		return
	}
	for _, c := range path {
		s, ok := c.(string)
		if !ok || s == "" || s == "." || s == ".." || strings.ContainsAny(s, "/\\") {
			err = fmt.Errorf("file entry has bad path component: %q", c)
			return
		}
		fi.Path = append(fi.Path, s)
	}
	return
}
