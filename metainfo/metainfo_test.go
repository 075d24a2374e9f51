package metainfo

import (
	"bytes"
	"strings"
	"testing"

	qt "github.com/go-quicktest/qt"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmd/torrent/bencode"
)

func testInfo() Info {
	return Info{
		Name:        "test",
		PieceLength: 4,
		Length:      6,
		Pieces:      append(HashBytes([]byte("abcd")).Bytes(), HashBytes([]byte("ef")).Bytes()...),
	}
}

func TestWriteThenLoad(t *testing.T) {
	info := testInfo()
	var mi MetaInfo
	require.NoError(t, mi.SetInfo(&info))
	mi.Announce = "http://tracker.example/announce"
	mi.AnnounceList = AnnounceList{{"http://a/announce"}, {"http://b/announce", "http://a/announce"}}
	mi.Comment = "hi"
	var buf bytes.Buffer
	require.NoError(t, mi.Write(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, mi.InfoHash(), loaded.InfoHash())
	assert.Equal(t, "hi", loaded.Comment)
	assert.Equal(t, []string{"http://a/announce", "http://b/announce", "http://tracker.example/announce"}, loaded.TrackerURLs())
	got, err := loaded.UnmarshalInfo()
	require.NoError(t, err)
	if diff := cmp.Diff(info, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("info changed (-want +got):\n%s", diff)
	}
}

func TestInfoHashIsOverCanonicalInfo(t *testing.T) {
	info := testInfo()
	b, err := info.MarshalBencode()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "d6:lengthi6e4:name4:test12:piece lengthi4e6:pieces40:"))
	mi, err := Unmarshal(bencode.MustEncode(map[string]any{"info": mustDecode(t, b)}))
	require.NoError(t, err)
	assert.Equal(t, HashBytes(b), mi.InfoHash())
}

func mustDecode(t *testing.T, b []byte) any {
	v, err := bencode.Decode(b)
	require.NoError(t, err)
	return v
}

func TestLoadErrors(t *testing.T) {
	good := testInfo()
	for _, _case := range []struct {
		name string
		info map[string]any
		err  string
	}{
		{"missing info", nil, "missing info"},
		{"zero piece length", func() map[string]any { d := good.toDict(); d["piece length"] = 0; return d }(), "bad piece length"},
		{"ragged pieces", func() map[string]any { d := good.toDict(); d["pieces"] = "abc"; return d }(), "not a multiple"},
		{"piece count", func() map[string]any { d := good.toDict(); d["length"] = 100; return d }(), "expected 25 piece hashes"},
		{"no length", func() map[string]any { d := good.toDict(); delete(d, "length"); return d }(), "neither length nor files"},
		{"bad path", func() map[string]any {
			d := good.toDict()
			delete(d, "length")
			d["files"] = []any{map[string]any{"length": 6, "path": []any{".."}}}
			return d
		}(), "bad path component"},
	} {
		top := map[string]any{"announce": "http://x"}
		if _case.info != nil {
			top["info"] = _case.info
		}
		_, err := Unmarshal(bencode.MustEncode(top))
		qt.Check(t, qt.ErrorMatches(err, ".*"+_case.err+".*"), qt.Commentf("%s", _case.name))
	}
}

func TestLoadTrailingGarbage(t *testing.T) {
	info := testInfo()
	var mi MetaInfo
	require.NoError(t, mi.SetInfo(&info))
	var buf bytes.Buffer
	require.NoError(t, mi.Write(&buf))
	buf.WriteString("\n")
	_, err := Load(&buf)
	var tb bencode.ErrUnusedTrailingBytes
	assert.ErrorAs(t, err, &tb)
}

func TestUpvertedAnnounceList(t *testing.T) {
	mi := MetaInfo{Announce: "http://x"}
	assert.Equal(t, AnnounceList{{"http://x"}}, mi.UpvertedAnnounceList())
	mi.AnnounceList = AnnounceList{{"http://y"}}
	assert.Equal(t, AnnounceList{{"http://y"}}, mi.UpvertedAnnounceList())
}
