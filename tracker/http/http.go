package httpTracker

import (
	"bytes"
	"context"
	"expvar"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/swarmd/torrent/tracker/shared"
	"github.com/swarmd/torrent/version"
)

var vars = expvar.NewMap("tracker/http")

type AnnounceRequest struct {
	InfoHash   [20]byte
	PeerId     [20]byte
	Downloaded int64
	// -1 if unknown.
	Left     int64
	Uploaded int64
	Event    shared.AnnounceEvent
	Port     uint16
}

type AnnounceResponse struct {
	Interval int32 // Minimum seconds the local peer should wait before next announce.
	Leechers int32
	Seeders  int32
	Peers    []Peer
}

type AnnounceOpt struct {
	UserAgent string
}

// Binary fields are escaped byte by byte. Spaces must be %20, since some trackers don't decode '+'.
func escapeBytes(b []byte) string {
	return strings.ReplaceAll(url.QueryEscape(string(b)), "+", "%20")
}

func setAnnounceParams(_url *url.URL, ar *AnnounceRequest) {
	res := "info_hash" + "=" + escapeBytes(ar.InfoHash[:]) +
		"&" + "peer_id" + "=" + escapeBytes(ar.PeerId[:]) +
		"&" + "port" + "=" + strconv.FormatUint(uint64(ar.Port), 10) +
		"&" + "uploaded" + "=" + strconv.FormatInt(ar.Uploaded, 10) +
		"&" + "downloaded" + "=" + strconv.FormatInt(ar.Downloaded, 10) +
		// Some trackers reject a negative left, so unknown is sent as the largest value.
		"&" + "left" + "=" + strconv.FormatInt(ar.Left&math.MaxInt64, 10) +
		func() (event string) {
			if ar.Event != shared.AnnounceEventNone {
				event = "&" + "event" + "=" + ar.Event.String()
			}
			return
		}() +
		// http://stackoverflow.com/questions/17418004/why-does-tracker-server-not-understand-my-request-bittorrent-protocol
		"&" + "compact" + "=" + "1" +
		func() (qstr string) {
			if qstr = _url.Query().Encode(); qstr != "" {
				qstr = "&" + qstr
			}
			return
		}()
	_url.RawQuery = res
}

type Client struct {
	hc   *http.Client
	url_ *url.URL
}

func NewClient(_url *url.URL, hc *http.Client) Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return Client{hc: hc, url_: _url}
}

func (cl Client) Announce(ctx context.Context, ar AnnounceRequest, opt AnnounceOpt) (ret AnnounceResponse, err error) {
	_url := *cl.url_
	setAnnounceParams(&_url, &ar)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, _url.String(), nil)
	if err != nil {
		return
	}
	userAgent := opt.UserAgent
	if userAgent == "" {
		userAgent = version.DefaultHttpUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := cl.hc.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	io.Copy(&buf, resp.Body)
	if resp.StatusCode != 200 {
		err = fmt.Errorf("response from tracker: %s: %s", resp.Status, buf.String())
		return
	}
	trackerResponse, err := parseResponse(buf.Bytes())
	if err != nil {
		err = fmt.Errorf("error decoding %q: %w", buf.Bytes(), err)
		return
	}
	if trackerResponse.FailureReason != "" {
		err = fmt.Errorf("tracker gave failure reason: %q", trackerResponse.FailureReason)
		return
	}
	vars.Add("successful http announces", 1)
	ret.Interval = trackerResponse.Interval
	ret.Leechers = trackerResponse.Incomplete
	ret.Seeders = trackerResponse.Complete
	if len(trackerResponse.Peers.List) != 0 {
		vars.Add("http responses with nonempty peers key", 1)
	}
	ret.Peers = trackerResponse.Peers.List
	return
}
