package bencode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeGenericModel(t *testing.T) {
	v, err := Decode([]byte("d3:cow3:moo4:spaml1:a1:bi-3eee"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"cow":  "moo",
		"spam": []any{"a", "b", int64(-3)},
	}, v)
}

func TestDecodeInteger(t *testing.T) {
	v, err := Decode([]byte("i-42e"))
	require.NoError(t, err)
	assert.Equal(t, int64(-42), v)
}

func TestDecodeTrailingBytes(t *testing.T) {
	_, err := Decode([]byte("4:spamXY"))
	var tb ErrUnusedTrailingBytes
	require.True(t, errors.As(err, &tb))
	assert.Equal(t, 2, tb.NumUnusedBytes)
}

func TestDecodeMalformed(t *testing.T) {
	for _, s := range []string{"", "i12", "5:abc", "l1:a", "x"} {
		_, err := Decode([]byte(s))
		assert.Error(t, err, "%q", s)
	}
}

func TestEncodeSortsKeys(t *testing.T) {
	b, err := Encode(map[string]any{
		"zebra": 1,
		"apple": []byte("x"),
		"mango": []any{int64(2), "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, "d5:apple1:x5:mangoli2e1:ye5:zebrai1ee", string(b))
}

func TestEncodeDecodedIsCanonical(t *testing.T) {
	in := []byte("d4:infod6:lengthi5e4:name1:a12:piece lengthi16384eee")
	v, err := Decode(in)
	require.NoError(t, err)
	out, err := Encode(v)
	require.NoError(t, err)
	assert.Equal(t, string(in), string(out))
}

func TestEncodeUnsupported(t *testing.T) {
	_, err := Encode(1.5)
	var mte *MarshalTypeError
	assert.True(t, errors.As(err, &mte))
}

type announceReply struct {
	Interval int64  `bencode:"interval"`
	Peers    string `bencode:"peers"`
}

func TestMarshalTaggedStruct(t *testing.T) {
	b, err := Marshal(announceReply{Interval: 1800, Peers: "abcdef"})
	require.NoError(t, err)
	assert.Equal(t, "d8:intervali1800e5:peers6:abcdefe", string(b))
	var r announceReply
	require.NoError(t, Unmarshal(b, &r))
	assert.EqualValues(t, 1800, r.Interval)
	assert.Equal(t, "abcdef", r.Peers)
}
