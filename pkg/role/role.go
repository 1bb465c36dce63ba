package role

import (
	"context"
	"fmt"
	"os"
)

// Role is the replication role of the local database node.
type Role int

const (
	// Standby means the node is in recovery and not writable.
	Standby Role = iota
	// Primary means recovery has finished and the node accepts writes.
	Primary
)

func (r Role) String() string {
	if r == Primary {
		return "primary"
	}
	return "standby"
}

// Probe reports whether the local node is currently in recovery. The probe is
// expected to be cheap and already debounced by the host; a single flip of
// its answer is trusted immediately.
type Probe func(ctx context.Context) (bool, error)

// Detector evaluates a Probe and caches the last observed role so callers
// can detect transitions. It is not safe for concurrent use; the event loop
// is its only caller.
type Detector struct {
	probe  Probe
	cur    Role
	primed bool
}

func NewDetector(p Probe) *Detector { return &Detector{probe: p} }

// Current re-evaluates the probe without touching the cached role.
func (d *Detector) Current(ctx context.Context) (Role, error) {
	inRecovery, err := d.probe(ctx)
	if err != nil {
		return Standby, fmt.Errorf("role: probe: %w", err)
	}
	if inRecovery {
		return Standby, nil
	}
	return Primary, nil
}

// Observe re-evaluates the probe and reports whether the role changed since
// the previous observation. The first observation primes the cache and never
// reports a change.
func (d *Detector) Observe(ctx context.Context) (r Role, changed bool, err error) {
	r, err = d.Current(ctx)
	if err != nil {
		return d.cur, false, err
	}
	if !d.primed {
		d.primed = true
		d.cur = r
		return r, false, nil
	}
	changed = r != d.cur
	d.cur = r
	return r, changed, nil
}

// Last returns the cached role from the most recent successful observation.
func (d *Detector) Last() Role { return d.cur }

// FileProbe reports Standby while the given marker file exists, mirroring
// the standby.signal convention. Useful for development and tests where no
// database is running.
func FileProbe(path string) Probe {
	return func(ctx context.Context) (bool, error) {
		_, err := os.Stat(path)
		if err == nil {
			return true, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
}
