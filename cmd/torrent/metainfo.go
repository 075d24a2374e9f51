package main

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"golang.org/x/xerrors"
)

type MetainfoCmd struct {
	JustName    bool   `help:"only print the torrent name"`
	PieceHashes bool   `help:"include piece hashes"`
	Spew        bool   `help:"dump the decoded info dictionary"`
	Torrent     string `arg:"positional,required" help:"torrent file path or URL"`
}

func metainfoErr(cmd *MetainfoCmd) error {
	mi, err := loadMetaInfo(cmd.Torrent)
	if err != nil {
		return err
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return xerrors.Errorf("unmarshalling info: %w", err)
	}
	if cmd.JustName {
		fmt.Println(info.Name)
		return nil
	}
	fmt.Printf("Name: %q\n", info.Name)
	fmt.Printf("Info hash: %v\n", mi.InfoHash().HexString())
	fmt.Printf("Length: %v (%v bytes)\n", humanize.Bytes(uint64(info.TotalLength())), info.TotalLength())
	fmt.Printf("Pieces: %v of %v\n", info.NumPieces(), humanize.Bytes(uint64(info.PieceLength)))
	for _, url := range mi.TrackerURLs() {
		fmt.Printf("Tracker: %v\n", url)
	}
	for _, f := range info.UpvertedFiles() {
		fmt.Printf("File: %v (%v)\n", f.DisplayPath(&info), humanize.Bytes(uint64(f.Length)))
	}
	if cmd.PieceHashes {
		for i := range info.NumPieces() {
			fmt.Printf("%d: %v\n", i, info.PieceHash(i).HexString())
		}
	}
	if cmd.Spew {
		info.Pieces = nil
		spew.Dump(info)
	}
	return nil
}
