package torrent

type ClientStats struct {
	// Block data sent to and received from peers during this session.
	BytesUploaded   int64
	BytesDownloaded int64
	BytesLeft       int64

	PiecesVerified int
	NumPieces      int

	NumPeers    int
	NumSeeders  int
	NumLeechers int
	// Queued block requests from peers, and received blocks waiting to be written.
	PendingUploads   int
	PendingDownloads int
}

func (cl *Client) Stats() (ret ClientStats) {
	ret.BytesUploaded = cl.uploaded.Load()
	ret.BytesDownloaded = cl.downloaded.Load()
	if cl.storage != nil {
		ret.BytesLeft = cl.storage.BytesLeft()
		ret.PiecesVerified = cl.storage.NumVerified()
		ret.NumPieces = cl.layout.NumPieces()
	}
	cl.mu.RLock()
	ret.NumPeers = len(cl.peers)
	ret.NumSeeders = len(cl.seeders)
	ret.NumLeechers = len(cl.leechers)
	cl.mu.RUnlock()
	ret.PendingUploads = cl.uploads.len()
	ret.PendingDownloads = cl.downloads.len()
	return
}
