package monitor

import (
	"context"
	"strings"

	"github.com/clusterbits/groupmon/pkg/groupchan"
	"github.com/clusterbits/groupmon/pkg/internal/logutil"
	"github.com/clusterbits/groupmon/pkg/observability/metrics"
	"github.com/clusterbits/groupmon/pkg/observability/tracing"
)

// applyConfigChange replaces the member view with the notification's
// authoritative current list, logs the delta, and checks for self-eviction.
// The delta is never diff-applied into the view: a missed event must not be
// able to make the view drift.
func (m *Monitor) applyConfigChange(ctx context.Context, cc *groupchan.ConfigChange) error {
	_, end := tracing.StartSpan(ctx, "monitor.configChange")
	defer end()

	m.mu.Lock()
	m.members = append(m.members[:0], cc.Members...)
	self := m.self
	m.mu.Unlock()

	metrics.GroupMembers.Set(float64(len(cc.Members)))
	metrics.ConfigChanges.WithLabelValues(changeKind(cc)).Inc()

	logutil.Infof(m.opts.Logger, "[groupmon] %d join, %d left, procs in group now: %s",
		len(cc.Joined), len(cc.Left), renderMembers(cc.Members))

	if len(cc.Left) > 0 && cc.Left[0] == self {
		logutil.Errorf(m.opts.Logger, "[groupmon] I left the closed process group!")
		return ErrEvicted
	}
	return nil
}

func changeKind(cc *groupchan.ConfigChange) string {
	switch {
	case len(cc.Joined) > 0:
		return "join"
	case len(cc.Left) > 0:
		return "leave"
	default:
		return "snapshot"
	}
}

func renderMembers(members []groupchan.Member) string {
	if len(members) == 0 {
		return "(none)"
	}
	parts := make([]string, 0, len(members))
	for _, m := range members {
		parts = append(parts, m.String())
	}
	return strings.Join(parts, ", ")
}
