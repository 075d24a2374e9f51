package metainfo

import (
	"crypto/sha1"
	"encoding"
	"encoding/hex"
	"fmt"
)

const HashSize = 20

// 20-byte SHA1 hash used for infohashes and piece hashes.
type Hash [HashSize]byte

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) AsString() string {
	return string(h[:])
}

func (h Hash) String() string {
	return h.HexString()
}

func (h Hash) HexString() string {
	return hex.EncodeToString(h[:])
}

func (h *Hash) FromHexString(s string) (err error) {
	if len(s) != 2*HashSize {
		return fmt.Errorf("hash hex string has bad length: %d", len(s))
	}
	_, err = hex.Decode(h[:], []byte(s))
	return
}

var (
	_ encoding.TextUnmarshaler = (*Hash)(nil)
	_ encoding.TextMarshaler   = Hash{}
)

func (h *Hash) UnmarshalText(b []byte) error {
	return h.FromHexString(string(b))
}

func (h Hash) MarshalText() (text []byte, err error) {
	return []byte(h.HexString()), nil
}

func NewHashFromHex(s string) (h Hash) {
	err := h.FromHexString(s)
	if err != nil {
		panic(err)
	}
	return
}

func HashBytes(b []byte) (ret Hash) {
	return sha1.Sum(b)
}
