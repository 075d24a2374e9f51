package main

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2"
	"github.com/anacrolix/tagflag"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/xerrors"

	"github.com/swarmd/torrent"
	"github.com/swarmd/torrent/metainfo"
)

type DownloadCmd struct {
	Addr            string         `help:"host to listen on for peers"`
	Port            int            `default:"6881" help:"port to listen on for peers"`
	DataDir         string         `default:"." help:"directory to store torrent data"`
	UploadRate      *tagflag.Bytes `help:"max piece bytes to send per second"`
	DownloadRate    *tagflag.Bytes `help:"max piece bytes to receive per second"`
	MaxSeeders      *int           `help:"max peers to download from at once"`
	MaxLeechers     *int           `help:"max peers to upload to at once"`
	TestPeer        []string       `help:"addresses of some starting peers"`
	DisableTrackers bool
	Seed            bool   `help:"seed after download is complete"`
	Progress        bool   `default:"true"`
	Quiet           bool   `help:"discard client logging"`
	Http            string `help:"serve status and metrics on this address"`
	Torrent         string `arg:"positional,required" help:"torrent file path or URL"`
}

func loadMetaInfo(arg string) (*metainfo.MetaInfo, error) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		response, err := http.Get(arg)
		if err != nil {
			return nil, xerrors.Errorf("downloading torrent file: %w", err)
		}
		defer response.Body.Close()
		mi, err := metainfo.Load(response.Body)
		if err != nil {
			return nil, xerrors.Errorf("error loading torrent file %q: %w", arg, err)
		}
		return mi, nil
	}
	return metainfo.LoadFromFile(arg)
}

func resolveTestPeers(addrs []string) (ret []netip.AddrPort, err error) {
	for _, ta := range addrs {
		ap, err := netip.ParseAddrPort(ta)
		if err != nil {
			return nil, xerrors.Errorf("parsing test peer %q: %w", ta, err)
		}
		ret = append(ret, ap)
	}
	return
}

func clientBar(cl *torrent.Client) {
	go func() {
		start := time.Now()
		lastStats := cl.Stats()
		var lastLine string
		for range time.Tick(time.Second) {
			stats := cl.Stats()
			line := fmt.Sprintf(
				"%v: %q: %s/%s, %d/%d pieces, %d peers: %v/s\n",
				time.Since(start).Truncate(time.Second),
				cl.Info().Name,
				humanize.Bytes(uint64(cl.Info().TotalLength()-stats.BytesLeft)),
				humanize.Bytes(uint64(cl.Info().TotalLength())),
				stats.PiecesVerified,
				stats.NumPieces,
				stats.NumPeers,
				humanize.Bytes(uint64(stats.BytesDownloaded-lastStats.BytesDownloaded)),
			)
			if line != lastLine {
				lastLine = line
				os.Stdout.WriteString(line)
			}
			lastStats = stats
		}
	}()
}

func downloadErr(cmd *DownloadCmd) error {
	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.Debug = flags.Debug
	clientConfig.ListenHost = cmd.Addr
	clientConfig.ListenPort = cmd.Port
	clientConfig.DataDir = cmd.DataDir
	clientConfig.DisableTrackers = cmd.DisableTrackers
	if cmd.UploadRate != nil {
		clientConfig.UploadRateLimit = cmd.UploadRate.Int64()
	}
	if cmd.DownloadRate != nil {
		clientConfig.DownloadRateLimit = cmd.DownloadRate.Int64()
	}
	if cmd.MaxSeeders != nil {
		clientConfig.MaxSeeders = *cmd.MaxSeeders
	}
	if cmd.MaxLeechers != nil {
		clientConfig.MaxLeechers = *cmd.MaxLeechers
	}
	if cmd.Quiet {
		clientConfig.Logger = log.Discard
	}
	testPeers, err := resolveTestPeers(cmd.TestPeer)
	if err != nil {
		return err
	}
	mi, err := loadMetaInfo(cmd.Torrent)
	if err != nil {
		return err
	}

	var stop missinggo.SynchronizedEvent
	defer func() {
		stop.Set()
	}()

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return xerrors.Errorf("creating client: %w", err)
	}
	defer client.Close()
	if err := client.AddTorrent(mi); err != nil {
		return xerrors.Errorf("adding torrent: %w", err)
	}
	go exitSignalHandlers(&stop)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop.C()
		cancel()
		client.Close()
	}()

	// Write status on the root path on the default HTTP muxer. This will be bound to localhost
	// somewhere if GOPPROF is set, thanks to the envpprof import.
	http.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		client.WriteStatus(w)
	})
	http.Handle("/metrics", promhttp.HandlerFor(torrent.Registry, promhttp.HandlerOpts{}))
	if cmd.Http != "" {
		go func() {
			err := http.ListenAndServe(cmd.Http, nil)
			log.Printf("serving http: %v", err)
		}()
	}

	if err := client.Start(ctx); err != nil {
		return xerrors.Errorf("starting client: %w", err)
	}
	log.Printf("listening on %v as %v", client.ListenAddr(), client.PeerID())
	client.AddPeers(testPeers)
	if cmd.Progress {
		clientBar(client)
	}
	if client.WaitComplete(ctx) {
		log.Print("downloaded ALL the pieces")
	} else {
		return xerrors.New("y u no complete torrent?!")
	}
	if cmd.Seed {
		<-stop.C()
	}
	if !cmd.Quiet {
		client.WriteStatus(os.Stdout)
	}
	return nil
}
