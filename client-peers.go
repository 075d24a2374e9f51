package torrent

import (
	"errors"
	"maps"
	"net/netip"
	"slices"
	"sort"
	"time"

	"github.com/anacrolix/log"
	"github.com/anacrolix/multiless"
)

var errPeerIdle = errors.New("idle timeout")

func (cl *Client) peerConnConfig() peerConnConfig {
	return peerConnConfig{
		infoHash:          cl.infoHash,
		peerID:            cl.peerID,
		layout:            cl.layout,
		bitfield:          cl.storage.VerifiedBitfield,
		keepAliveInterval: cl.config.KeepAliveInterval,
		dialTimeout:       cl.config.DialTimeout,
		dialRateLimiter:   cl.config.DialRateLimiter,
		logger:            cl.logger,
	}
}

func (cl *Client) peerConnHandlers() peerConnHandlers {
	return peerConnHandlers{
		disconnected:   cl.onPeerDisconnected,
		stateChanged:   cl.onPeerStateChanged,
		blockRequested: cl.onBlockRequested,
		blockCancelled: cl.onBlockCancelled,
		blockReceived:  cl.onBlockReceived,
	}
}

func (cl *Client) addOutgoingPeer(ap netip.AddrPort) bool {
	if !ap.IsValid() || cl.isSelf(ap) {
		return false
	}
	return cl.addPeerConn(newPeerConn(ap.String(), nil, true, cl.peerConnConfig(), cl.peerConnHandlers()))
}

// Registers the connection and starts it. A connection to an endpoint we already have is closed
// instead.
func (cl *Client) addPeerConn(c *PeerConn) bool {
	cl.mu.Lock()
	if _, ok := cl.peers[c.key]; ok || cl.closed.IsSet() || cl.ctx == nil {
		cl.mu.Unlock()
		c.Close()
		return false
	}
	cl.peers[c.key] = c
	activePeers.Set(float64(len(cl.peers)))
	cl.mu.Unlock()
	go c.connect(cl.ctx)
	return true
}

func (cl *Client) onPeerDisconnected(c *PeerConn) {
	cl.mu.Lock()
	registered := cl.peers[c.key] == c
	if registered {
		delete(cl.peers, c.key)
		if cl.seeders[c.key] == c {
			delete(cl.seeders, c.key)
		}
		if cl.leechers[c.key] == c {
			delete(cl.leechers, c.key)
		}
		activePeers.Set(float64(len(cl.peers)))
	}
	cl.mu.Unlock()
	if !registered {
		return
	}
	peersDisconnected.Inc()
	cl.uploads.remove(func(r DataRequest) bool {
		return r.Peer == c
	})
	cl.config.Callbacks.peerDisconnected(c)
	// Whatever was requested from it can go to someone else.
	cl.downloadLoop.trigger()
}

func (cl *Client) onPeerStateChanged(c *PeerConn) {
	if c.handshakeComplete() && c.connectedReported.CompareAndSwap(false, true) {
		peersConnected.Inc()
		cl.config.Callbacks.peerConnected(c)
	}
	cl.peerLoop.trigger()
	cl.downloadLoop.trigger()
}

func (cl *Client) peersSnapshot() []*PeerConn {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return slices.Collect(maps.Values(cl.peers))
}

func (cl *Client) seedersSnapshot() []*PeerConn {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return slices.Collect(maps.Values(cl.seeders))
}

// Peers with the most pieces we need first.
func (cl *Client) peersByUsefulness() []*PeerConn {
	peers := cl.peersSnapshot()
	useful := make(map[*PeerConn]int, len(peers))
	for _, p := range peers {
		useful[p] = p.piecesRequiredAvailable(cl.storage.PieceVerified)
	}
	sort.Slice(peers, func(i, j int) bool {
		l, r := peers[i], peers[j]
		return multiless.New().Int(
			useful[r], useful[l],
		).Less()
	})
	return peers
}

// The peer-management pass: drops idle and pointless connections, keeps interest and keep alives
// current, and fills the seeder and leecher sets.
func (cl *Client) peersPass() {
	now := time.Now()
	completed := cl.storage.Completed()
	started := cl.storage.Started()
	for _, p := range cl.peersByUsefulness() {
		if idle := now.Sub(p.lastActivity()); idle > cl.config.PeerIdleTimeout {
			cl.logger.Levelf(log.Debug, "dropping %v after %v idle", p, idle)
			p.closeWithErr(errPeerIdle)
			continue
		}
		if !p.handshakeComplete() {
			continue
		}
		if completed || p.piecesRequiredAvailable(cl.storage.PieceVerified) == 0 {
			p.sendNotInterested()
		} else {
			p.sendInterested()
		}
		if completed && p.completed() {
			cl.logger.Levelf(log.Debug, "dropping %v: both complete", p)
			p.Close()
			continue
		}
		p.sendKeepAlive()
		cl.updateLeecher(p, started)
		cl.updateSeeder(p, completed)
	}
}

// Unchokes interested peers while there's room, once we have something to offer. Peers that lose
// interest are choked again to free their slot.
func (cl *Client) updateLeecher(p *PeerConn, started bool) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.peers[p.key] != p {
		return
	}
	if cl.leechers[p.key] == p {
		if !p.peerInterested() {
			p.sendChoke()
			delete(cl.leechers, p.key)
		}
		return
	}
	if started && len(cl.leechers) < cl.config.MaxLeechers && p.peerInterested() && p.isChoking() {
		if p.sendUnchoke() {
			cl.leechers[p.key] = p
		}
	}
}

// Tracks the peers that are unchoking us while we still need data.
func (cl *Client) updateSeeder(p *PeerConn, completed bool) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.peers[p.key] != p {
		return
	}
	if cl.seeders[p.key] == p {
		if completed || p.peerChoking() {
			delete(cl.seeders, p.key)
		}
		return
	}
	if !completed && len(cl.seeders) < cl.config.MaxSeeders && !p.peerChoking() {
		cl.seeders[p.key] = p
	}
}
