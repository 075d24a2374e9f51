package torrent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/anacrolix/sync"
	"golang.org/x/sync/errgroup"

	"github.com/swarmd/torrent/metainfo"
	"github.com/swarmd/torrent/ratelimit"
	"github.com/swarmd/torrent/storage"
	"github.com/swarmd/torrent/tracker"
)

// A Client participates in the swarm of a single torrent: it keeps the peer set, decides who to
// download from and upload to, and moves blocks between peers and storage.
type Client struct {
	config *ClientConfig
	logger log.Logger
	peerID PeerID

	ctx      context.Context
	cancel   context.CancelFunc
	started  atomic.Bool
	closed   chansync.SetOnce
	complete chansync.SetOnce
	// Long-lived goroutines started by Start.
	goroutines errgroup.Group

	mi              *metainfo.MetaInfo
	info            *metainfo.Info
	infoHash        metainfo.Hash
	layout          storage.Layout
	storage         *storage.Torrent
	pieceCompletion storage.PieceCompletion

	listener   net.Listener
	localAddrs []netip.Addr

	mu sync.RWMutex
	// All registered connections, and the subsets we download from and upload to, keyed by remote
	// endpoint.
	peers    map[string]*PeerConn
	seeders  map[string]*PeerConn
	leechers map[string]*PeerConn
	trackers []*tracker.Tracker

	uploads          queue[DataRequest]
	downloads        queue[DataPackage]
	uploadThrottle   *ratelimit.Throttle
	downloadThrottle *ratelimit.Throttle
	uploaded         atomic.Int64
	downloaded       atomic.Int64

	trackerLoop        *guardedLoop
	peerLoop           *guardedLoop
	uploadLoop         *guardedLoop
	downloadLoop       *guardedLoop
	completedAnnounced atomic.Bool
}

var ErrClientClosed = errors.New("client closed")

// Creates a new client. A nil config uses NewDefaultClientConfig.
func NewClient(cfg *ClientConfig) (cl *Client, err error) {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}
	cl = &Client{
		config:           cfg,
		logger:           cfg.Logger,
		peers:            make(map[string]*PeerConn),
		seeders:          make(map[string]*PeerConn),
		leechers:         make(map[string]*PeerConn),
		uploadThrottle:   ratelimit.NewThrottle(cfg.UploadRateLimit, cfg.RateWindow),
		downloadThrottle: ratelimit.NewThrottle(cfg.DownloadRateLimit, cfg.RateWindow),
	}
	if cfg.Debug {
		cl.logger = cl.logger.FilterLevel(log.Debug)
	}
	if cfg.PeerID != "" {
		if len(cfg.PeerID) != 20 {
			return nil, fmt.Errorf("peer id %q is not 20 bytes", cfg.PeerID)
		}
		copy(cl.peerID[:], cfg.PeerID)
	} else {
		cl.peerID = generatePeerID(cfg.Bep20)
	}
	cl.trackerLoop = newGuardedLoop("tracker", cfg.TrackerLoopInterval, cl.trackersPass)
	cl.peerLoop = newGuardedLoop("peer", cfg.PeerLoopInterval, cl.peersPass)
	cl.uploadLoop = newGuardedLoop("upload", cfg.UploadLoopInterval, cl.uploadPass)
	cl.downloadLoop = newGuardedLoop("download", cfg.DownloadLoopInterval, cl.downloadPass)
	return cl, nil
}

func (cl *Client) AddTorrentFromFile(filename string) error {
	mi, err := metainfo.LoadFromFile(filename)
	if err != nil {
		return err
	}
	return cl.AddTorrent(mi)
}

// Sets the torrent the client serves. Only one torrent can be added, before Start.
func (cl *Client) AddTorrent(mi *metainfo.MetaInfo) (err error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.mi != nil {
		return errors.New("client already has a torrent")
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return fmt.Errorf("unmarshalling info: %w", err)
	}
	infoHash := mi.InfoHash()
	if cl.config.NoPieceCompletionDB {
		cl.pieceCompletion = storage.NewMapPieceCompletion()
	} else {
		dir := cl.config.PieceCompletionDir
		if dir == "" {
			dir = cl.config.DataDir
		}
		cl.pieceCompletion = storage.PieceCompletionForDir(dir, cl.logger)
	}
	ts, err := storage.NewTorrent(&info, infoHash, storage.TorrentOpts{
		Dir:             cl.config.DataDir,
		PieceCompletion: cl.pieceCompletion,
		OnPieceVerified: cl.onPieceVerified,
		Logger:          &cl.logger,
	})
	if err != nil {
		cl.pieceCompletion.Close()
		return fmt.Errorf("opening storage: %w", err)
	}
	cl.mi = mi
	cl.info = &info
	cl.infoHash = infoHash
	cl.layout = ts.Layout
	cl.storage = ts
	if !cl.config.DisableTrackers {
		for _, u := range mi.TrackerURLs() {
			cl.trackers = append(cl.trackers, tracker.NewTracker(u, cl.config.DefaultAnnounceInterval))
		}
	}
	cl.logger = cl.logger.WithContextValue(infoHash.HexString())
	return nil
}

// Checks existing data, starts listening for peers and starts the scheduling loops. The loops run
// until ctx is done or the client is closed.
func (cl *Client) Start(ctx context.Context) error {
	if cl.storage == nil {
		return errors.New("no torrent added")
	}
	if cl.closed.IsSet() {
		return ErrClientClosed
	}
	panicif.True(cl.started.Load())
	cl.ctx, cl.cancel = context.WithCancel(ctx)
	started := time.Now()
	err := cl.storage.VerifyAll(cl.ctx, cl.config.PieceHashers)
	if err != nil {
		return fmt.Errorf("verifying existing data: %w", err)
	}
	cl.logger.Levelf(log.Info, "verified existing data in %v: %v", time.Since(started), cl.storage)
	cl.listener, err = net.Listen("tcp", net.JoinHostPort(cl.config.ListenHost, strconv.Itoa(cl.config.ListenPort)))
	if err != nil {
		return fmt.Errorf("listening: %w", err)
	}
	cl.localAddrs = localAddrs()
	if cl.storage.Completed() {
		// Nothing was downloaded in this session, so there's no completion to announce.
		cl.completedAnnounced.Store(true)
		cl.complete.Set()
	}
	cl.started.Store(true)
	cl.goroutines.Go(func() error {
		cl.acceptConnections(cl.listener)
		return nil
	})
	for _, l := range cl.loops() {
		cl.goroutines.Go(func() error {
			l.run(cl.ctx)
			return nil
		})
	}
	cl.trackerLoop.trigger()
	return nil
}

func (cl *Client) loops() []*guardedLoop {
	return []*guardedLoop{cl.trackerLoop, cl.peerLoop, cl.uploadLoop, cl.downloadLoop}
}

func (cl *Client) acceptConnections(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if !cl.closed.IsSet() && cl.ctx.Err() == nil {
				cl.logger.Levelf(log.Error, "accepting connections: %v", err)
			}
			return
		}
		cl.logger.Levelf(log.Debug, "accepted connection from %v", conn.RemoteAddr())
		cl.addPeerConn(newPeerConn(conn.RemoteAddr().String(), conn, false, cl.peerConnConfig(), cl.peerConnHandlers()))
	}
}

// Stops the loops, disconnects every peer and tells trackers we've stopped. Safe to call more than
// once.
func (cl *Client) Close() (errs []error) {
	if !cl.closed.Set() {
		return
	}
	if cl.cancel != nil {
		cl.cancel()
	}
	if cl.listener != nil {
		cl.listener.Close()
	}
	for _, p := range cl.peersSnapshot() {
		p.Close()
	}
	cl.goroutines.Wait()
	if cl.started.Load() {
		cl.announceStopped()
	}
	if cl.pieceCompletion != nil {
		if err := cl.pieceCompletion.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return
}

// Blocks until every piece is verified. Returns false if ctx is done or the client closes first.
func (cl *Client) WaitComplete(ctx context.Context) bool {
	select {
	case <-cl.complete.Done():
		return true
	case <-cl.closed.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

// Closed when every piece has been verified.
func (cl *Client) Complete() <-chan struct{} {
	return cl.complete.Done()
}

// Closed when the client is.
func (cl *Client) Closed() <-chan struct{} {
	return cl.closed.Done()
}

func (cl *Client) Completed() bool {
	return cl.storage != nil && cl.storage.Completed()
}

// Dials the given peers, skipping ourselves and endpoints we're already connected to. Returns how
// many new connections were started.
func (cl *Client) AddPeers(addrs []netip.AddrPort) (added int) {
	for _, ap := range addrs {
		if cl.addOutgoingPeer(ap) {
			added++
		}
	}
	return
}

// Returns nil until Start has succeeded.
func (cl *Client) ListenAddr() net.Addr {
	if cl.listener == nil {
		return nil
	}
	return cl.listener.Addr()
}

func (cl *Client) listenPort() int {
	if addr, ok := cl.ListenAddr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func (cl *Client) PeerID() PeerID {
	return cl.peerID
}

func (cl *Client) InfoHash() metainfo.Hash {
	return cl.infoHash
}

func (cl *Client) Info() *metainfo.Info {
	return cl.info
}

// The piece store, for progress reporting.
func (cl *Client) Storage() *storage.Torrent {
	return cl.storage
}

// Addresses of the local interfaces, for recognising ourselves in tracker responses.
func localAddrs() (ret []netip.Addr) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if addr, ok := netip.AddrFromSlice(ipNet.IP); ok {
			ret = append(ret, addr.Unmap())
		}
	}
	return
}

func (cl *Client) isSelf(ap netip.AddrPort) bool {
	if int(ap.Port()) != cl.listenPort() {
		return false
	}
	addr := ap.Addr().Unmap()
	if addr.IsLoopback() || addr.IsUnspecified() {
		return true
	}
	for _, a := range cl.localAddrs {
		if a == addr {
			return true
		}
	}
	return false
}
