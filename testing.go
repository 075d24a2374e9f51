package torrent

import (
	"testing"
	"time"

	"github.com/anacrolix/log"
)

func TestingConfig(t testing.TB) *ClientConfig {
	cfg := NewDefaultClientConfig()
	cfg.ListenHost = "127.0.0.1"
	cfg.ListenPort = 0
	cfg.DataDir = t.TempDir()
	cfg.DisableTrackers = true
	cfg.NoPieceCompletionDB = true
	cfg.DialRateLimiter = nil
	cfg.DialTimeout = 5 * time.Second
	cfg.PeerLoopInterval = 50 * time.Millisecond
	cfg.UploadLoopInterval = 50 * time.Millisecond
	cfg.DownloadLoopInterval = 50 * time.Millisecond
	// Enough that tests transferring a few pieces aren't held up.
	cfg.UploadRateLimit = 16 << 20
	cfg.DownloadRateLimit = 16 << 20
	cfg.Logger = log.Default.WithNames("test").FilterLevel(log.Warning)
	//cfg.Debug = true
	return cfg
}
