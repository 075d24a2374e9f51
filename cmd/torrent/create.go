package main

import (
	"io"
	"os"

	"github.com/anacrolix/tagflag"
	"golang.org/x/xerrors"

	"github.com/swarmd/torrent/metainfo"
)

type CreateCmd struct {
	AnnounceList []string `arg:"-a,separate" help:"tracker announce URL, one tier each"`
	Comment      string   `arg:"-t" help:"comment"`
	CreatedBy    string   `arg:"-c" help:"created by"`
	InfoName     *string  `arg:"-i" help:"override info name (defaults to ROOT)"`
	PieceLength  *tagflag.Bytes
	Private      *bool
	Output       string `arg:"-o" help:"write to this file instead of stdout"`
	Root         string `arg:"positional,required"`
}

// Creates a torrent metainfo for the file system rooted at Root.
func createErr(cmd *CreateCmd) (err error) {
	var mi metainfo.MetaInfo
	for _, a := range cmd.AnnounceList {
		mi.AnnounceList = append(mi.AnnounceList, []string{a})
	}
	if len(mi.AnnounceList) != 0 {
		mi.Announce = mi.AnnounceList[0][0]
	}
	mi.SetDefaults()
	if len(cmd.Comment) > 0 {
		mi.Comment = cmd.Comment
	}
	if len(cmd.CreatedBy) > 0 {
		mi.CreatedBy = cmd.CreatedBy
	}
	info := metainfo.Info{
		Private: cmd.Private,
	}
	if cmd.PieceLength != nil {
		info.PieceLength = cmd.PieceLength.Int64()
	}
	err = info.BuildFromFilePath(cmd.Root)
	if err != nil {
		return xerrors.Errorf("building info from %q: %w", cmd.Root, err)
	}
	if cmd.InfoName != nil {
		info.Name = *cmd.InfoName
	}
	err = mi.SetInfo(&info)
	if err != nil {
		return
	}
	var w io.Writer = os.Stdout
	if cmd.Output != "" {
		f, err := os.Create(cmd.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return mi.Write(w)
}
