package httpTracker

import (
	"errors"
	"fmt"

	"github.com/anacrolix/dht/v2/krpc"

	"github.com/swarmd/torrent/bencode"
)

type HttpResponse struct {
	FailureReason string
	Interval      int32
	TrackerId     string
	Complete      int32
	Incomplete    int32
	Peers         Peers
}

type Peers struct {
	List    []Peer
	Compact bool
}

// Peers may be the compact string of 6 byte IPv4 address and port entries, or a list of
// dictionaries.
func (me *Peers) fromValue(_v any) (err error) {
	switch v := _v.(type) {
	case nil:
		return
	case string:
		vars.Add("http responses with string peers", 1)
		var cnas krpc.CompactIPv4NodeAddrs
		err = cnas.UnmarshalBinary([]byte(v))
		if err != nil {
			return
		}
		me.Compact = true
		for _, cp := range cnas {
			me.List = append(me.List, Peer{}.FromNodeAddr(cp))
		}
		return
	case []any:
		vars.Add("http responses with list peers", 1)
		me.Compact = false
		for _, i := range v {
			d, ok := i.(map[string]any)
			if !ok {
				return fmt.Errorf("peer list entry is %T", i)
			}
			var p Peer
			err = p.FromDictInterface(d)
			if err != nil {
				return
			}
			me.List = append(me.List, p)
		}
		return
	default:
		vars.Add("http responses with unhandled peers type", 1)
		return fmt.Errorf("unsupported type: %T", _v)
	}
}

func asInt32(v any) int32 {
	i, _ := v.(int64)
	return int32(i)
}

func parseResponse(b []byte) (ret HttpResponse, err error) {
	v, err := bencode.Decode(b)
	var tb bencode.ErrUnusedTrailingBytes
	if errors.As(err, &tb) {
		err = nil
	}
	if err != nil {
		return
	}
	d, ok := v.(map[string]any)
	if !ok {
		err = fmt.Errorf("response is %T, not a dictionary", v)
		return
	}
	ret.FailureReason, _ = d["failure reason"].(string)
	ret.TrackerId, _ = d["tracker id"].(string)
	ret.Interval = asInt32(d["interval"])
	ret.Complete = asInt32(d["complete"])
	ret.Incomplete = asInt32(d["incomplete"])
	if ret.FailureReason != "" {
		return
	}
	err = ret.Peers.fromValue(d["peers"])
	if err != nil {
		err = fmt.Errorf("decoding peers: %w", err)
	}
	return
}
