// Package tracker announces to BitTorrent trackers and keeps the re-announce schedule for each.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	trHttp "github.com/swarmd/torrent/tracker/http"
	"github.com/swarmd/torrent/tracker/shared"
)

const (
	None      = shared.AnnounceEventNone
	Started   = shared.AnnounceEventStarted
	Stopped   = shared.AnnounceEventStopped
	Completed = shared.AnnounceEventCompleted
)

type (
	AnnounceRequest  = trHttp.AnnounceRequest
	AnnounceResponse = trHttp.AnnounceResponse
	AnnounceEvent    = shared.AnnounceEvent
	Peer             = trHttp.Peer
)

var ErrBadScheme = errors.New("unknown scheme")

type Announce struct {
	TrackerUrl string
	Request    AnnounceRequest
	HttpClient *http.Client
	UserAgent  string
	Context    context.Context
}

// The code *is* the documentation.
func (me Announce) Do() (res AnnounceResponse, err error) {
	_url, err := url.Parse(me.TrackerUrl)
	if err != nil {
		return
	}
	ctx := me.Context
	if ctx == nil {
		ctx = context.Background()
	}
	switch _url.Scheme {
	case "http", "https":
		return trHttp.NewClient(_url, me.HttpClient).Announce(ctx, me.Request, trHttp.AnnounceOpt{
			UserAgent: me.UserAgent,
		})
	default:
		err = fmt.Errorf("%w: %q", ErrBadScheme, _url.Scheme)
		return
	}
}

// Announces are spaced this far apart until a tracker says otherwise.
const DefaultInterval = 30 * time.Minute

// A failed announce is retried after this, or the regular interval if that's shorter.
const RetryInterval = time.Minute

// Re-announce schedule and last result for one tracker URL.
type Tracker struct {
	Url string

	mu           sync.Mutex
	interval     time.Duration
	lastAnnounce time.Time
	nextAnnounce time.Time
	attempted    bool
	started      bool
	lastErr      error
	numPeers     int
}

func NewTracker(url string, defaultInterval time.Duration) *Tracker {
	if defaultInterval <= 0 {
		defaultInterval = DefaultInterval
	}
	return &Tracker{
		Url:      url,
		interval: defaultInterval,
	}
}

// Whether an announce is allowed at now. The first announce is always due.
func (me *Tracker) Due(now time.Time) bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	return !me.attempted || !now.Before(me.nextAnnounce)
}

// The event for the next regular announce: Started until one has succeeded.
func (me *Tracker) NextEvent() AnnounceEvent {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.started {
		return None
	}
	return Started
}

// Records the outcome of an announce of event attempted at now.
func (me *Tracker) Update(now time.Time, event AnnounceEvent, res AnnounceResponse, err error) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.attempted = true
	me.lastAnnounce = now
	me.lastErr = err
	if err != nil {
		me.nextAnnounce = now.Add(min(me.interval, RetryInterval))
		return
	}
	if event == Started {
		me.started = true
	}
	me.numPeers = len(res.Peers)
	if res.Interval > 0 {
		me.interval = time.Duration(res.Interval) * time.Second
	}
	me.nextAnnounce = now.Add(me.interval)
}

type TrackerStatus struct {
	Url          string
	Interval     time.Duration
	LastAnnounce time.Time
	NextAnnounce time.Time
	LastErr      error
	NumPeers     int
}

func (me *Tracker) Status() TrackerStatus {
	me.mu.Lock()
	defer me.mu.Unlock()
	return TrackerStatus{
		Url:          me.Url,
		Interval:     me.interval,
		LastAnnounce: me.lastAnnounce,
		NextAnnounce: me.nextAnnounce,
		LastErr:      me.lastErr,
		NumPeers:     me.numPeers,
	}
}
