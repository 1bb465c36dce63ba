package monitor

import "errors"

var (
	// ErrEvicted means the group reported this very process as having left.
	// The local view of cluster state can no longer be trusted.
	ErrEvicted = errors.New("monitor: evicted from the closed process group")

	// ErrLoopBroken marks an event-loop exit that matched no shutdown or
	// failure path; it should be unreachable.
	ErrLoopBroken = errors.New("monitor: event loop exited unexpectedly")
)
