package torrent

import (
	"context"
	"time"

	"github.com/anacrolix/log"
	"golang.org/x/sync/errgroup"

	"github.com/swarmd/torrent/tracker"
)

const (
	announceTimeout = time.Minute
	// Stopped announces happen during Close, so they get less time.
	stoppedAnnounceTimeout = 10 * time.Second
)

func (cl *Client) announceRequest(event tracker.AnnounceEvent) tracker.AnnounceRequest {
	return tracker.AnnounceRequest{
		InfoHash:   cl.infoHash,
		PeerId:     cl.peerID,
		Downloaded: cl.downloaded.Load(),
		Left:       cl.storage.BytesLeft(),
		Uploaded:   cl.uploaded.Load(),
		Event:      event,
		Port:       uint16(cl.listenPort()),
	}
}

// Announces to every tracker whose interval has elapsed, and connects to the peers they return.
func (cl *Client) trackersPass() {
	now := time.Now()
	var eg errgroup.Group
	for _, tr := range cl.trackers {
		if !tr.Due(now) {
			continue
		}
		eg.Go(func() error {
			cl.announce(cl.ctx, tr, tr.NextEvent(), announceTimeout)
			return nil
		})
	}
	eg.Wait()
}

func (cl *Client) announce(ctx context.Context, tr *tracker.Tracker, event tracker.AnnounceEvent, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := tracker.Announce{
		TrackerUrl: tr.Url,
		Request:    cl.announceRequest(event),
		HttpClient: cl.config.HTTPClient,
		UserAgent:  cl.config.HTTPUserAgent,
		Context:    ctx,
	}.Do()
	tr.Update(time.Now(), event, res, err)
	if err != nil {
		cl.logger.Levelf(log.Warning, "announcing %v to %q: %v", event, tr.Url, err)
		return
	}
	added := 0
	for _, p := range res.Peers {
		ap, ok := p.ToNetipAddrPort()
		if !ok {
			continue
		}
		if cl.addOutgoingPeer(ap) {
			added++
		}
	}
	cl.logger.Levelf(log.Debug, "announced %v to %q: %v peers, %v new", event, tr.Url, len(res.Peers), added)
}

// Announces event to every tracker that has had a successful started announce.
func (cl *Client) announceToStarted(ctx context.Context, event tracker.AnnounceEvent, timeout time.Duration) {
	var eg errgroup.Group
	for _, tr := range cl.trackers {
		if tr.NextEvent() == tracker.Started {
			continue
		}
		eg.Go(func() error {
			cl.announce(ctx, tr, event, timeout)
			return nil
		})
	}
	eg.Wait()
}

func (cl *Client) announceCompleted() {
	cl.announceToStarted(cl.ctx, tracker.Completed, announceTimeout)
}

func (cl *Client) announceStopped() {
	cl.announceToStarted(context.Background(), tracker.Stopped, stoppedAnnounceTimeout)
}
