package shared

type AnnounceEvent int32

// See BEP 3, "event".
const (
	// Default event, equivalent to unspecified
	AnnounceEventNone AnnounceEvent = iota
	// Local peer just completed the torrent.
	AnnounceEventCompleted
	// Local peer has just started or resumed this torrent.
	AnnounceEventStarted
	// Local peer is leaving the swarm.
	AnnounceEventStopped
)

func (e AnnounceEvent) String() string {
	switch e {
	case AnnounceEventCompleted:
		return "completed"
	case AnnounceEventStarted:
		return "started"
	case AnnounceEventStopped:
		return "stopped"
	default:
		return ""
	}
}
