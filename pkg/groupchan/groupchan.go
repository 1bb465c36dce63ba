package groupchan

import (
	"context"
	"errors"
	"fmt"
)

// Member identifies one process joined to the group. ID is the node name as
// configured on the peer; PID is the operating-system process id of the
// daemon on that node, carried in gossip metadata so every member renders
// the same id/pid list.
type Member struct {
	ID  string `json:"id"`
	PID int    `json:"pid"`
}

func (m Member) String() string { return fmt.Sprintf("%s/%d", m.ID, m.PID) }

// ConfigChange is a membership-change notification. Members is the
// authoritative current view after the change; Joined and Left carry the
// delta and are meant for logging and self-eviction detection only.
type ConfigChange struct {
	Members []Member
	Joined  []Member
	Left    []Member
}

// DispatchResult discriminates the outcome of a non-blocking dispatch.
type DispatchResult int

const (
	// NoneReady means no notification was pending; not an error.
	NoneReady DispatchResult = iota
	// MembershipChanged means one ConfigChange was dequeued.
	MembershipChanged
)

var (
	ErrAlreadyJoined = errors.New("groupchan: already joined to a group")
	ErrNotJoined     = errors.New("groupchan: not joined to a group")
)

// Channel is the adapter over the group-communication service. A Channel is
// owned by exactly one event loop; none of its methods are safe for
// concurrent use except Ready.
//
// Any error returned from Join or DispatchOne other than the sentinels above
// means the channel state can no longer be trusted; callers are expected to
// abort rather than retry.
type Channel interface {
	// Join connects to the service and joins the named group. Local identity
	// is resolved during the join handshake.
	Join(ctx context.Context, group string) error

	// Local returns this process's identity within the group.
	Local() (Member, error)

	// DispatchOne dequeues at most one pending notification. It never blocks:
	// with an empty queue it returns (NoneReady, nil, nil) immediately.
	DispatchOne() (DispatchResult, *ConfigChange, error)

	// Ready is signalled whenever a notification is queued. The event loop
	// waits on it instead of polling DispatchOne in a tight loop.
	Ready() <-chan struct{}

	// Leave announces departure from the group. Best effort; process exit
	// leaves implicitly.
	Leave() error

	// Close tears down the connection.
	Close() error
}
