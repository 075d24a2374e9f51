package torrent

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
)

type statusWriter struct {
	w    io.Writer
	line []any
}

func (me *statusWriter) a(a any) {
	me.line = append(me.line, a)
}

func (me *statusWriter) as(a ...any) {
	me.line = append(me.line, a...)
}

func (me *statusWriter) f(fmtStr string, args ...any) {
	me.line = append(me.line, fmt.Sprintf(fmtStr, args...))
}

func (me *statusWriter) nl() {
	fmt.Fprintln(me.w, me.line...)
	me.line = nil
}

// Writes out a human readable status of the client, such as for writing to a HTTP status page.
func (cl *Client) WriteStatus(w io.Writer) {
	sw := statusWriter{w: w}
	sw.f("Listen address: %v", cl.ListenAddr())
	sw.nl()
	sw.f("Peer ID: %v", cl.peerID)
	sw.nl()
	if cl.storage == nil {
		sw.a("No torrent added.")
		sw.nl()
		return
	}
	stats := cl.Stats()
	sw.f("Torrent: %q %v", cl.info.Name, cl.infoHash.HexString())
	sw.nl()
	sw.f(
		"Progress: %v/%v pieces, %v left",
		stats.PiecesVerified, stats.NumPieces,
		humanize.Bytes(uint64(stats.BytesLeft)),
	)
	sw.nl()
	sw.f(
		"Transferred: %v up, %v down",
		humanize.Bytes(uint64(stats.BytesUploaded)),
		humanize.Bytes(uint64(stats.BytesDownloaded)),
	)
	sw.nl()
	sw.f("Queues: %v uploads, %v downloads", stats.PendingUploads, stats.PendingDownloads)
	sw.nl()
	for _, tr := range cl.trackers {
		st := tr.Status()
		sw.f("Tracker %q:", st.Url)
		if !st.LastAnnounce.IsZero() {
			sw.f("last announce %v ago,", time.Since(st.LastAnnounce).Truncate(time.Second))
		}
		sw.f("%v peers, interval %v", st.NumPeers, st.Interval)
		if st.LastErr != nil {
			sw.f("error: %v", st.LastErr)
		}
		sw.nl()
	}
	cl.mu.RLock()
	seeders, leechers := len(cl.seeders), len(cl.leechers)
	cl.mu.RUnlock()
	sw.f("Peers: %v (%v seeders, %v leechers)", stats.NumPeers, seeders, leechers)
	sw.nl()
	peers := cl.peersSnapshot()
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].key < peers[j].key
	})
	for _, p := range peers {
		up, down := p.stats()
		sw.as("  ", p)
		if id := p.PeerID(); id.Ok {
			sw.a(id.Value)
		}
		sw.f(
			"choked:%v choking:%v up:%v down:%v",
			p.peerChoking(), p.isChoking(),
			humanize.Bytes(uint64(up)), humanize.Bytes(uint64(down)),
		)
		sw.nl()
	}
}
