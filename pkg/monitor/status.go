package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clusterbits/groupmon/pkg/groupchan"
	"github.com/clusterbits/groupmon/pkg/role"
)

// Render produces the one-line process status display for the given role and
// member count. Pure formatting; exactly two templates exist.
func Render(r role.Role, members int) string {
	if r == role.Primary {
		return fmt.Sprintf("[%d] I'm the primary!", members)
	}
	return fmt.Sprintf("[%d] Hello!", members)
}

// Snapshot is the JSON-serializable view served by the management endpoint.
type Snapshot struct {
	State           string             `json:"state"`
	Group           string             `json:"group"`
	Role            string             `json:"role"`
	Display         string             `json:"display"`
	Members         []groupchan.Member `json:"members"`
	IntervalSeconds int                `json:"interval_seconds"`
}

// Status returns a point-in-time snapshot of the monitor. Safe to call from
// outside the event loop.
func (m *Monitor) Status() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := append([]groupchan.Member(nil), m.members...)
	return Snapshot{
		State:           m.state.String(),
		Group:           m.opts.Group,
		Role:            m.role.String(),
		Display:         Render(m.role, len(members)),
		Members:         members,
		IntervalSeconds: int(m.interval.Seconds()),
	}
}

// StatusJSON adapts Status to the management transport contract.
func (m *Monitor) StatusJSON(ctx context.Context) ([]byte, error) {
	return json.Marshal(m.Status())
}
