package torrent

import (
	"net/http"
	"time"

	"github.com/anacrolix/log"
	"golang.org/x/time/rate"

	"github.com/swarmd/torrent/version"
)

const (
	// Default byte budget per RateWindow for each direction.
	defaultRateLimit = 16384
	// Least upper bound on a single peer wire message we will buffer: a 16KiB block plus headroom
	// for peers that request double sized blocks.
	minMaxMessageLength = 256 << 10
)

// The largest peer wire message accepted for a torrent. It's raised for torrents whose bitfield
// message wouldn't otherwise fit.
func maxMessageLength(numPieces int) int {
	return max(minMaxMessageLength, 4+1+(numPieces+7)/8)
}

// Probably not safe to modify this after it's given to a Client, or to pass it to multiple Clients.
type ClientConfig struct {
	// Torrent data is stored under this directory. Single file torrents are written directly into
	// it, multi-file torrents into a subdirectory named for the torrent.
	DataDir string `long:"data-dir" description:"directory to store downloaded torrent data"`
	// The host to listen on for inbound peer connections. Empty means all interfaces.
	ListenHost string
	// 0 picks a free port, see Client.ListenAddr.
	ListenPort int `long:"port"`
	// User-provided Client peer ID. If not present, one is generated automatically.
	PeerID string
	// Peer ID client identifier prefix.
	Bep20 string

	// Cap on the number of peers we download from at a time.
	MaxSeeders int
	// Cap on the number of peers we unchoke at a time.
	MaxLeechers int
	// Bytes allowed per RateWindow in each direction. These are admission checks made before each
	// block is sent or requested, not a blocking limiter.
	UploadRateLimit   int64 `long:"upload-rate"`
	DownloadRateLimit int64 `long:"download-rate"`
	RateWindow        time.Duration

	// Peers that have sent nothing for this long are disconnected.
	PeerIdleTimeout time.Duration
	// A keep alive is sent after this long without writing to a peer.
	KeepAliveInterval time.Duration

	PeerLoopInterval     time.Duration
	UploadLoopInterval   time.Duration
	DownloadLoopInterval time.Duration
	TrackerLoopInterval  time.Duration
	// Used until a tracker gives its own interval.
	DefaultAnnounceInterval time.Duration

	DialTimeout time.Duration
	// Rate limits outbound connection attempts. nil means no limit.
	DialRateLimiter *rate.Limiter

	// Don't announce to trackers. Peers can still be added with Client.AddPeers.
	DisableTrackers bool `long:"disable-trackers"`
	HTTPUserAgent   string
	// Used for tracker announces if set.
	HTTPClient *http.Client

	// How many pieces are hashed in parallel when checking existing data at startup.
	PieceHashers int
	// Where to keep the piece completion database. Empty uses DataDir. If the database can't be
	// opened completion is kept in memory.
	PieceCompletionDir string
	// Don't persist piece completion at all.
	NoPieceCompletionDB bool

	// Perform logging and any other behaviour that will help debug.
	Debug  bool `help:"enable debugging"`
	Logger log.Logger

	Callbacks Callbacks
}

func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		DataDir:                 ".",
		Bep20:                   version.DefaultBep20Prefix,
		MaxSeeders:              5,
		MaxLeechers:             5,
		UploadRateLimit:         defaultRateLimit,
		DownloadRateLimit:       defaultRateLimit,
		RateWindow:              time.Second,
		PeerIdleTimeout:         30 * time.Second,
		KeepAliveInterval:       30 * time.Second,
		PeerLoopInterval:        time.Second,
		UploadLoopInterval:      time.Second,
		DownloadLoopInterval:    time.Second,
		TrackerLoopInterval:     10 * time.Second,
		DefaultAnnounceInterval: 30 * time.Minute,
		DialTimeout:             20 * time.Second,
		DialRateLimiter:         rate.NewLimiter(10, 10),
		HTTPUserAgent:           version.DefaultHttpUserAgent,
		PieceHashers:            2,
		Logger:                  log.Default.WithNames("torrent"),
	}
}
