// Package bencode decodes and encodes the generic bencode value model used by metainfo files and
// tracker responses: int64, byte strings (as Go strings), []any lists and map[string]any
// dictionaries. Dictionary keys are emitted in raw byte order, so re-encoding a decoded dictionary
// is canonical and suitable for hashing.
package bencode

import (
	"bufio"
	"bytes"
	"fmt"
	"reflect"

	jackpal "github.com/jackpal/bencode-go"
)

// ErrUnusedTrailingBytes is returned when a buffer holds more than the one value it was decoded
// for.
type ErrUnusedTrailingBytes struct {
	NumUnusedBytes int
}

func (me ErrUnusedTrailingBytes) Error() string {
	return fmt.Sprintf("%d unused trailing bytes", me.NumUnusedBytes)
}

// In case if marshaler cannot encode a type in bencode, it will return this error. Typical example
// of such type is float32/float64 which has no bencode representation.
type MarshalTypeError struct {
	Type reflect.Type
}

func (me *MarshalTypeError) Error() string {
	return "bencode: unsupported type: " + me.Type.String()
}

// Decode parses exactly one value from b.
func Decode(b []byte) (any, error) {
	r := bytes.NewReader(b)
	br := bufio.NewReader(r)
	v, err := jackpal.Decode(br)
	if err != nil {
		return nil, fmt.Errorf("bencode: %w", err)
	}
	if unused := br.Buffered() + r.Len(); unused != 0 {
		return v, ErrUnusedTrailingBytes{unused}
	}
	return v, nil
}

// Encode serializes a value from the generic model. []byte is accepted wherever a string is.
func Encode(v any) ([]byte, error) {
	n, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	err = jackpal.Marshal(&buf, n)
	if err != nil {
		return nil, fmt.Errorf("bencode: %w", err)
	}
	return buf.Bytes(), nil
}

// MustEncode is Encode for values known to be encodable.
func MustEncode(v any) []byte {
	b, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Converts the convenience types callers build dictionaries from into the types the encoder
// handles identically everywhere.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case string, int64:
		return t, nil
	case []byte:
		return string(t), nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case []string:
		l := make([]any, 0, len(t))
		for _, s := range t {
			l = append(l, s)
		}
		return l, nil
	case []any:
		l := make([]any, 0, len(t))
		for _, e := range t {
			n, err := normalize(e)
			if err != nil {
				return nil, err
			}
			l = append(l, n)
		}
		return l, nil
	case map[string]any:
		d := make(map[string]any, len(t))
		for k, e := range t {
			n, err := normalize(e)
			if err != nil {
				return nil, err
			}
			d[k] = n
		}
		return d, nil
	default:
		return nil, &MarshalTypeError{reflect.TypeOf(v)}
	}
}

// Unmarshal decodes b into v, which is usually a struct with `bencode:"key"` field tags.
func Unmarshal(b []byte, v any) error {
	return jackpal.Unmarshal(bytes.NewReader(b), v)
}

// Marshal encodes a tagged struct (or a generic value) with sorted dictionary keys.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	err := jackpal.Marshal(&buf, v)
	return buf.Bytes(), err
}
