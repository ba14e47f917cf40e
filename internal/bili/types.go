package bili

import "errors"

// LiveStatus is a room's broadcast state.
type LiveStatus int

const (
	StatusOffline  LiveStatus = 0
	StatusLive     LiveStatus = 1
	StatusRotating LiveStatus = 2 // carousel/rerun rooms; not a real broadcast
)

func (s LiveStatus) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusLive:
		return "live"
	case StatusRotating:
		return "rotating"
	default:
		return "unknown"
	}
}

// Account is the identity behind an access key.
type Account struct {
	UID  int64
	Name string
}

// Medal is one owned fan badge with its room context, as listed by the
// badge panel. The core copies what it needs into task.Target at the
// registry boundary; entries with a missing target or room are rejected
// there.
type Medal struct {
	MedalID    int64
	TargetID   int64
	TargetName string
	RoomID     int64
	GuardLevel int // 0 = no guard
	Level      int
	IsLit      bool
}

// ErrInvalidCredential reports an access key the platform no longer accepts.
// It ends the owning account's run; other accounts are unaffected.
var ErrInvalidCredential = errors.New("invalid or expired access key")
