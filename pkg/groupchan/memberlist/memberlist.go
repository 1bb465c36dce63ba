package memberlist

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/clusterbits/groupmon/pkg/groupchan"
)

// nodeMeta is gossiped with every alive message. Group lets a channel reject
// peers that belong to a different process group sharing the same gossip
// network; PID completes the member identity.
type nodeMeta struct {
	Group string `json:"group"`
	PID   int    `json:"pid"`
}

// Options configures the memberlist-backed group channel.
type Options struct {
	// NodeID is the unique node identifier within the group.
	NodeID string

	// Bind is the gossip bind address in host:port form (e.g. ":7946").
	Bind string

	// Advertise is the address peers use to reach this node. If empty,
	// memberlist derives it from Bind.
	Advertise string

	// Seeds are peer gossip addresses contacted during the join handshake.
	// An empty list starts a fresh group.
	Seeds []string

	// Logger is optional. If nil, log.Default() is used.
	Logger *log.Logger

	// Tuning parameters (optional). Zero means use defaults.
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	SuspicionMult int
}

// channel implements groupchan.Channel using HashiCorp memberlist. Gossip
// callbacks arrive on memberlist's goroutines and are converted under lock
// into queued ConfigChange notifications; the owning event loop drains the
// queue through DispatchOne.
type channel struct {
	opts Options

	mu      sync.Mutex
	ml      *memberlist.Memberlist
	joining bool
	group   string
	local   groupchan.Member
	view    map[string]groupchan.Member
	pending []*groupchan.ConfigChange
	ready   chan struct{}
	closed  bool
}

// New constructs an unjoined channel.
func New(opts Options) (groupchan.Channel, error) {
	if opts.NodeID == "" {
		return nil, fmt.Errorf("memberlist: empty NodeID")
	}
	if opts.Bind == "" {
		return nil, fmt.Errorf("memberlist: empty Bind address")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &channel{
		opts:  opts,
		view:  make(map[string]groupchan.Member),
		ready: make(chan struct{}, 1),
	}, nil
}

func (c *channel) Join(ctx context.Context, group string) error {
	if group == "" {
		return fmt.Errorf("memberlist: empty group name")
	}

	cfg := memberlist.DefaultLANConfig()
	cfg.Name = c.opts.NodeID
	cfg.Logger = c.opts.Logger

	host, portStr, err := net.SplitHostPort(c.opts.Bind)
	if err != nil {
		return fmt.Errorf("memberlist: invalid bind address %q: %w", c.opts.Bind, err)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return err
	}
	cfg.BindAddr = host
	cfg.BindPort = port

	if c.opts.Advertise != "" {
		ahost, aportStr, err := net.SplitHostPort(c.opts.Advertise)
		if err != nil {
			return fmt.Errorf("memberlist: invalid advertise address %q: %w", c.opts.Advertise, err)
		}
		aport, err := parsePort(aportStr)
		if err != nil {
			return err
		}
		cfg.AdvertiseAddr = ahost
		cfg.AdvertisePort = aport
	}

	if c.opts.ProbeInterval > 0 {
		cfg.ProbeInterval = c.opts.ProbeInterval
	}
	if c.opts.ProbeTimeout > 0 {
		cfg.ProbeTimeout = c.opts.ProbeTimeout
	}
	if c.opts.SuspicionMult > 0 {
		cfg.SuspicionMult = c.opts.SuspicionMult
	}

	meta, _ := json.Marshal(nodeMeta{Group: group, PID: os.Getpid()})
	cfg.Delegate = &nodeDelegate{meta: meta}
	cfg.Events = &eventDelegate{ch: c}

	c.mu.Lock()
	if c.ml != nil || c.joining {
		c.mu.Unlock()
		return groupchan.ErrAlreadyJoined
	}
	c.joining = true
	c.group = group
	c.local = groupchan.Member{ID: c.opts.NodeID, PID: os.Getpid()}
	c.mu.Unlock()

	// Create fires NotifyJoin for the local node synchronously, which is why
	// the lock is released around it. The first queued notification is the
	// initial snapshot containing only this process.
	ml, err := memberlist.Create(cfg)
	if err != nil {
		c.resetJoin()
		return fmt.Errorf("memberlist: create: %w", err)
	}
	if len(c.opts.Seeds) > 0 {
		if _, err := ml.Join(c.opts.Seeds); err != nil {
			_ = ml.Shutdown()
			c.resetJoin()
			return fmt.Errorf("memberlist: join %q: %w", group, err)
		}
	}

	c.mu.Lock()
	c.ml = ml
	c.joining = false
	c.mu.Unlock()
	return nil
}

// resetJoin rolls back a failed join handshake.
func (c *channel) resetJoin() {
	c.mu.Lock()
	c.joining = false
	c.group = ""
	c.local = groupchan.Member{}
	c.view = make(map[string]groupchan.Member)
	c.pending = nil
	c.mu.Unlock()
}

func (c *channel) Local() (groupchan.Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ml == nil {
		return groupchan.Member{}, groupchan.ErrNotJoined
	}
	return c.local, nil
}

func (c *channel) DispatchOne() (groupchan.DispatchResult, *groupchan.ConfigChange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ml == nil && !c.joining && !c.closed {
		return groupchan.NoneReady, nil, groupchan.ErrNotJoined
	}
	if len(c.pending) == 0 {
		return groupchan.NoneReady, nil, nil
	}
	cc := c.pending[0]
	c.pending = c.pending[1:]
	if len(c.pending) > 0 {
		c.signal()
	}
	return groupchan.MembershipChanged, cc, nil
}

func (c *channel) Ready() <-chan struct{} { return c.ready }

func (c *channel) Leave() error {
	c.mu.Lock()
	ml := c.ml
	c.mu.Unlock()
	if ml == nil {
		return groupchan.ErrNotJoined
	}
	// best effort: give the departure a moment to broadcast
	return ml.Leave(time.Second)
}

func (c *channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.ml != nil {
		_ = c.ml.Shutdown()
		c.ml = nil
	}
	return nil
}

// onAlive handles a node becoming visible. Peers from foreign groups are
// ignored; a re-announce of a known member is an update, not a membership
// change, and queues nothing.
func (c *channel) onAlive(n *memberlist.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.decode(n)
	if !ok {
		return
	}
	if prev, known := c.view[m.ID]; known && prev.PID == m.PID {
		return
	}
	c.view[m.ID] = m
	c.enqueue(&groupchan.ConfigChange{
		Members: c.snapshot(),
		Joined:  []groupchan.Member{m},
	})
}

func (c *channel) onDead(n *memberlist.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.decode(n)
	if !ok {
		// meta can be lost on forced eviction; fall back to the view
		prev, known := c.view[n.Name]
		if !known {
			return
		}
		m = prev
	}
	if _, known := c.view[m.ID]; !known {
		return
	}
	delete(c.view, m.ID)
	c.enqueue(&groupchan.ConfigChange{
		Members: c.snapshot(),
		Left:    []groupchan.Member{m},
	})
}

// decode extracts the member identity from gossiped metadata and filters out
// nodes belonging to a different group. Callers hold c.mu.
func (c *channel) decode(n *memberlist.Node) (groupchan.Member, bool) {
	if n == nil || len(n.Meta) == 0 {
		return groupchan.Member{}, false
	}
	var meta nodeMeta
	if err := json.Unmarshal(n.Meta, &meta); err != nil {
		return groupchan.Member{}, false
	}
	if meta.Group != c.group {
		return groupchan.Member{}, false
	}
	return groupchan.Member{ID: n.Name, PID: meta.PID}, true
}

// snapshot renders the current view as a sorted member list. Callers hold c.mu.
func (c *channel) snapshot() []groupchan.Member {
	out := make([]groupchan.Member, 0, len(c.view))
	for _, m := range c.view {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// enqueue appends a notification and signals readiness. Callers hold c.mu.
func (c *channel) enqueue(cc *groupchan.ConfigChange) {
	if c.closed {
		return
	}
	c.pending = append(c.pending, cc)
	c.signal()
}

func (c *channel) signal() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

func parsePort(s string) (int, error) {
	var p int
	_, err := fmt.Sscanf(s, "%d", &p)
	if err != nil || p < 0 || p > 65535 {
		return 0, fmt.Errorf("memberlist: invalid port %q", s)
	}
	return p, nil
}

// eventDelegate adapts memberlist events into queued notifications.
type eventDelegate struct {
	ch *channel
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node)   { d.ch.onAlive(n) }
func (d *eventDelegate) NotifyLeave(n *memberlist.Node)  { d.ch.onDead(n) }
func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) { d.ch.onAlive(n) }

// nodeDelegate carries the static node metadata (group name and PID).
type nodeDelegate struct{ meta []byte }

// NodeMeta returns metadata broadcast in alive messages, truncated to limit.
func (d *nodeDelegate) NodeMeta(limit int) []byte {
	if len(d.meta) <= limit {
		return d.meta
	}
	if limit <= 0 {
		return nil
	}
	return d.meta[:limit]
}

// Unused hooks; required to satisfy memberlist.Delegate.
func (d *nodeDelegate) NotifyMsg([]byte)                       {}
func (d *nodeDelegate) GetBroadcasts(int, int) [][]byte        { return nil }
func (d *nodeDelegate) LocalState(join bool) []byte            { return nil }
func (d *nodeDelegate) MergeRemoteState(buf []byte, join bool) {}

var _ groupchan.Channel = (*channel)(nil)
