// Downloads and seeds a single torrent from the command-line.
//
// Example run:
// $ go run ./cmd/torrent download --port 6881 ubuntu-20.04.2-live-server-amd64.iso.torrent
// 1s: "ubuntu-20.04.2-live-server-amd64.iso": 0 B/1.2 GB, 0/4636 pieces, 3 peers: 0 B/s
// 2s: "ubuntu-20.04.2-live-server-amd64.iso": 16 kB/1.2 GB, 0/4636 pieces, 5 peers: 16 kB/s
// ...

package main

import (
	"fmt"
	stdLog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2"

	"github.com/swarmd/torrent/version"
)

var flags struct {
	Debug bool

	*DownloadCmd `arg:"subcommand:download"`
	*CreateCmd   `arg:"subcommand:create"`
	*MetainfoCmd `arg:"subcommand:metainfo"`
	*VersionCmd  `arg:"subcommand:version"`
}

type VersionCmd struct{}

func exitSignalHandlers(notify *missinggo.SynchronizedEvent) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	for {
		log.Printf("close signal received: %+v", <-c)
		notify.Set()
	}
}

func main() {
	defer envpprof.Stop()
	if err := mainErr(); err != nil {
		log.Printf("error in main: %v", err)
		os.Exit(1)
	}
}

func mainErr() error {
	stdLog.SetFlags(stdLog.Flags() | stdLog.Lshortfile)
	p := arg.MustParse(&flags)
	switch {
	case flags.DownloadCmd != nil:
		return downloadErr(flags.DownloadCmd)
	case flags.CreateCmd != nil:
		return createErr(flags.CreateCmd)
	case flags.MetainfoCmd != nil:
		return metainfoErr(flags.MetainfoCmd)
	case flags.VersionCmd != nil:
		fmt.Printf("HTTP User-Agent: %q\n", version.DefaultHttpUserAgent)
		fmt.Printf("Torrent version prefix: %q\n", version.DefaultBep20Prefix)
		fmt.Printf("Module version: %q\n", version.ModuleVersion)
		return nil
	default:
		p.Fail(fmt.Sprintf("unexpected subcommand: %v", p.Subcommand()))
		panic("unreachable")
	}
}
