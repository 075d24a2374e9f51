package torrent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the client metrics. cmd/torrent serves it with promhttp.
var Registry = prometheus.NewRegistry()

var (
	factory = promauto.With(Registry)

	bytesUploaded = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "torrent",
		Name:      "uploaded_bytes_total",
		Help:      "Block data sent to peers.",
	})
	bytesDownloaded = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "torrent",
		Name:      "downloaded_bytes_total",
		Help:      "Block data received from peers and written.",
	})
	piecesVerified = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "torrent",
		Name:      "pieces_verified_total",
	})
	peersConnected = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "torrent",
		Name:      "peers_connected_total",
		Help:      "Peers that completed a handshake.",
	})
	peersDisconnected = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "torrent",
		Name:      "peers_disconnected_total",
	})
	protocolViolations = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "torrent",
		Name:      "protocol_violations_total",
	})
	requestsSent = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrent",
		Name:      "requests_sent_total",
	}, []string{"type"})
	loopPassesSkipped = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrent",
		Name:      "loop_passes_skipped_total",
		Help:      "Loop ticks dropped because the previous pass was still running.",
	}, []string{"loop"})
	activePeers = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "torrent",
		Name:      "active_peers",
	})
)
