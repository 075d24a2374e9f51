/*
Package torrent implements a BitTorrent client that participates in the swarm of a single torrent.

Simple example:

	cl, _ := torrent.NewClient(nil)
	defer cl.Close()
	cl.AddTorrentFromFile("ubuntu.iso.torrent")
	cl.Start(context.Background())
	if cl.WaitComplete(context.Background()) {
		log.Print("ermahgerd, torrent downloaded")
	}

The client keeps serving peers after completion until it is closed.
*/
package torrent
