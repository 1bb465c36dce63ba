package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/clusterbits/groupmon/pkg/groupchan"
	"github.com/clusterbits/groupmon/pkg/internal/logutil"
	"github.com/clusterbits/groupmon/pkg/observability/metrics"
	"github.com/clusterbits/groupmon/pkg/role"
)

// State names the lifecycle phases of the monitor. Terminal states are
// StateShutdown (clean exit requested) and StateAborted (fatal condition).
type State int

const (
	StateInitializing State = iota
	StateJoining
	StateRunning
	StateShutdown
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateJoining:
		return "joining"
	case StateRunning:
		return "running"
	case StateShutdown:
		return "shutdown"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Options carries the collaborators and runtime configuration of a Monitor.
type Options struct {
	// Channel is the group-communication adapter (required).
	Channel groupchan.Channel
	// Detector evaluates the local recovery predicate (required).
	Detector *role.Detector
	// Group is the well-known process group name (required).
	Group string
	// Interval bounds the time between forced loop iterations (required).
	Interval time.Duration
	// Interrupts is the pending-interrupt mailbox polled each iteration
	// (required).
	Interrupts *Interrupts
	// Reload re-reads configuration and returns the new wakeup interval.
	// Invoked when a reload interrupt is pending. Optional.
	Reload func() (time.Duration, error)
	// Logger is optional. If nil, log.Default() is used.
	Logger *log.Logger
}

// Validate performs a minimal check of Options before the monitor starts.
func (o Options) Validate() error {
	if o.Channel == nil {
		return errors.New("monitor: nil Channel")
	}
	if o.Detector == nil {
		return errors.New("monitor: nil Detector")
	}
	if o.Group == "" {
		return errors.New("monitor: empty Group")
	}
	if o.Interval <= 0 {
		return errors.New("monitor: non-positive Interval")
	}
	if o.Interrupts == nil {
		return errors.New("monitor: nil Interrupts")
	}
	return nil
}

// Monitor is the event loop and lifecycle controller. It owns the member
// view, the cached role and the effective interval; all three are written
// only from the loop's own thread of control. The read lock exists solely
// for the management endpoint's Status snapshots.
type Monitor struct {
	opts Options

	mu       sync.RWMutex
	state    State
	self     groupchan.Member
	members  []groupchan.Member
	role     role.Role
	interval time.Duration
}

// New constructs a Monitor from validated options. No network activity
// happens until Run.
func New(opts Options) (*Monitor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Monitor{opts: opts, interval: opts.Interval}, nil
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Monitor) setRole(r role.Role) {
	m.mu.Lock()
	m.role = r
	m.mu.Unlock()
	if r == role.Primary {
		metrics.IsPrimary.Set(1)
	} else {
		metrics.IsPrimary.Set(0)
	}
}

// Run drives the monitor through its lifecycle: initialize, join, then the
// steady-state loop. It returns nil after a requested shutdown and an error
// for every fatal path; the caller maps that to the process exit status.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.initialize(ctx); err != nil {
		return m.abort(err)
	}
	if err := m.join(ctx); err != nil {
		return m.abort(err)
	}
	m.setState(StateRunning)

	for m.State() == StateRunning {
		done, err := m.Step(ctx)
		if err != nil {
			return m.abort(err)
		}
		if done {
			m.setState(StateShutdown)
			logutil.Infof(m.opts.Logger, "[groupmon] …and leaving")
			return nil
		}
		m.wait(ctx)
	}

	logutil.Errorf(m.opts.Logger, "[groupmon] oops, the event loop broke")
	return m.abort(ErrLoopBroken)
}

func (m *Monitor) abort(err error) error {
	m.setState(StateAborted)
	logutil.Errorf(m.opts.Logger, "[groupmon] fatal: %v", err)
	return err
}

// initialize registers metrics and captures the pre-join role.
func (m *Monitor) initialize(ctx context.Context) error {
	m.setState(StateInitializing)
	metrics.Register()
	logutil.Infof(m.opts.Logger, "[groupmon] starting, interval=%s", m.opts.Interval)

	r, _, err := m.opts.Detector.Observe(ctx)
	if err != nil {
		return fmt.Errorf("monitor: initial role probe: %w", err)
	}
	m.setRole(r)
	return nil
}

// join opens the group channel and resolves the local identity. Failures
// here indicate a misconfigured deployment and are never retried.
func (m *Monitor) join(ctx context.Context) error {
	m.setState(StateJoining)
	if err := m.opts.Channel.Join(ctx, m.opts.Group); err != nil {
		if errors.Is(err, groupchan.ErrAlreadyJoined) {
			return fmt.Errorf("monitor: channel is already joined to a group: %w", err)
		}
		return fmt.Errorf("monitor: could not join group %q: %w", m.opts.Group, err)
	}
	self, err := m.opts.Channel.Local()
	if err != nil {
		return fmt.Errorf("monitor: local identity lookup: %w", err)
	}
	m.mu.Lock()
	m.self = self
	m.mu.Unlock()
	logutil.Infof(m.opts.Logger, "[groupmon] joined group %q as %s", m.opts.Group, self)
	return nil
}

// Step executes one loop iteration without the trailing wait: shutdown
// check, at most one dispatch, role re-evaluation, pending interrupts.
// Exported so tests can drive the loop one iteration at a time.
func (m *Monitor) Step(ctx context.Context) (done bool, err error) {
	metrics.LoopIterations.Inc()

	if ctx.Err() != nil || m.opts.Interrupts.ShutdownRequested() {
		return true, nil
	}

	res, cc, err := m.opts.Channel.DispatchOne()
	if err != nil {
		return false, fmt.Errorf("monitor: dispatching callback failed: %w", err)
	}
	if res == groupchan.MembershipChanged {
		logutil.Debugf(m.opts.Logger, "[groupmon] dispatched one event")
		if err := m.applyConfigChange(ctx, cc); err != nil {
			return false, err
		}
	}

	r, changed, err := m.opts.Detector.Observe(ctx)
	if err != nil {
		// transient probe failure: keep the cached role, it stays
		// at-most-one-interval stale once the probe recovers
		logutil.Warnf(m.opts.Logger, "[groupmon] role probe failed: %v", err)
	} else {
		if changed {
			if r == role.Primary {
				logutil.Infof(m.opts.Logger, "[groupmon] I've been promoted!")
			} else {
				logutil.Infof(m.opts.Logger, "[groupmon] I've been demoted!")
			}
			metrics.RoleChanges.Inc()
		}
		m.setRole(r)
	}

	if m.opts.Interrupts.TakeReload() {
		m.reload()
	}
	return false, nil
}

// reload applies a configuration reload. Rejected reloads keep the previous
// interval in effect; an accepted interval is used by the very next wait.
func (m *Monitor) reload() {
	if m.opts.Reload == nil {
		return
	}
	iv, err := m.opts.Reload()
	if err != nil {
		metrics.ConfigReloads.WithLabelValues("rejected").Inc()
		logutil.Warnf(m.opts.Logger, "[groupmon] configuration reload rejected: %v", err)
		return
	}
	m.mu.Lock()
	m.interval = iv
	m.mu.Unlock()
	metrics.ConfigReloads.WithLabelValues("applied").Inc()
	logutil.Infof(m.opts.Logger, "[groupmon] configuration reloaded, interval=%s", iv)
}

// Interval returns the effective wakeup interval.
func (m *Monitor) Interval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interval
}

// wait is the single suspension point: it blocks until the channel has a
// pending notification, the interval elapses, an interrupt wakes the loop,
// or the host asks the process to die.
func (m *Monitor) wait(ctx context.Context) {
	t := time.NewTimer(m.Interval())
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-m.opts.Channel.Ready():
	case <-m.opts.Interrupts.Woken():
	}
	m.opts.Interrupts.ClearWake()
}
