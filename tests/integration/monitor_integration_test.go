//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/clusterbits/groupmon/pkg/bootstrap"
	"github.com/clusterbits/groupmon/pkg/config"
	"github.com/clusterbits/groupmon/pkg/monitor"
	httpjson "github.com/clusterbits/groupmon/pkg/transport/httpjson"
)

func freePort(t *testing.T) int {
	t.Helper()
	a, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	defer a.Close()
	return a.LocalAddr().(*net.UDPAddr).Port
}

type node struct {
	app    *bootstrap.App
	mgmt   string
	marker string
	done   chan error
}

func startNode(t *testing.T, ctx context.Context, id string, seeds []string) *node {
	t.Helper()
	bind := net.JoinHostPort("127.0.0.1", strconv.Itoa(freePort(t)))
	mgmt := net.JoinHostPort("127.0.0.1", strconv.Itoa(freePort(t)))
	marker := filepath.Join(t.TempDir(), "standby.signal")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		t.Fatalf("marker %s: %v", id, err)
	}

	cfg := &config.Config{
		Group:       "pgsql_group",
		NodeID:      id,
		Interval:    1,
		Bind:        bind,
		Advertise:   bind,
		Seeds:       seeds,
		Discovery:   "static",
		MgmtAddr:    mgmt,
		MgmtProto:   "http",
		Probe:       "file",
		StandbyFile: marker,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config %s: %v", id, err)
	}

	app, err := bootstrap.BuildWithConfig(ctx, "", cfg, log.Default())
	if err != nil {
		t.Fatalf("build %s: %v", id, err)
	}
	n := &node{app: app, mgmt: mgmt, marker: marker, done: make(chan error, 1)}
	go func() { n.done <- app.Run(ctx) }()
	return n
}

func fetchStatus(t *testing.T, ctx context.Context, cli *httpjson.Client, addr string) (monitor.Snapshot, error) {
	t.Helper()
	var snap monitor.Snapshot
	data, err := cli.GetStatus(ctx, addr)
	if err != nil {
		return snap, err
	}
	return snap, json.Unmarshal(data, &snap)
}

func awaitStatus(t *testing.T, ctx context.Context, cli *httpjson.Client, addr string, timeout time.Duration, ok func(monitor.Snapshot) bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last monitor.Snapshot
	for {
		s, err := fetchStatus(t, ctx, cli, addr)
		if err == nil {
			last = s
			if ok(s) {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("status condition not met for %s: last=%+v err=%v", addr, last, err)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func TestThreeNodes_MembershipAndPromotion(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	a := startNode(t, ctx, "na", nil)
	seedAddr := a.app.Config.Bind
	b := startNode(t, ctx, "nb", []string{seedAddr})
	c := startNode(t, ctx, "nc", []string{seedAddr})

	cli := httpjson.NewClient(3 * time.Second)
	all3 := func(s monitor.Snapshot) bool { return len(s.Members) == 3 && s.State == "running" }
	awaitStatus(t, ctx, cli, a.mgmt, 15*time.Second, all3)
	awaitStatus(t, ctx, cli, b.mgmt, 15*time.Second, all3)
	awaitStatus(t, ctx, cli, c.mgmt, 15*time.Second, all3)

	// every node starts as a standby
	awaitStatus(t, ctx, cli, b.mgmt, 5*time.Second, func(s monitor.Snapshot) bool {
		return s.Role == "standby" && s.Display == "[3] Hello!"
	})

	// promote b by removing its standby marker
	if err := os.Remove(b.marker); err != nil {
		t.Fatalf("remove marker: %v", err)
	}
	awaitStatus(t, ctx, cli, b.mgmt, 10*time.Second, func(s monitor.Snapshot) bool {
		return s.Role == "primary" && s.Display == "[3] I'm the primary!"
	})
	// promotion is local: the others stay standby
	awaitStatus(t, ctx, cli, a.mgmt, 5*time.Second, func(s monitor.Snapshot) bool {
		return s.Role == "standby"
	})

	// graceful departure of c shrinks the view on the survivors
	c.app.Interrupts.RequestShutdown()
	select {
	case err := <-c.done:
		if err != nil {
			t.Fatalf("c shutdown: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("c did not shut down")
	}

	two := func(s monitor.Snapshot) bool { return len(s.Members) == 2 }
	awaitStatus(t, ctx, cli, a.mgmt, 20*time.Second, two)
	awaitStatus(t, ctx, cli, b.mgmt, 20*time.Second, two)

	// survivors exit cleanly
	a.app.Interrupts.RequestShutdown()
	b.app.Interrupts.RequestShutdown()
	for _, n := range []*node{a, b} {
		select {
		case err := <-n.done:
			if err != nil {
				t.Fatalf("shutdown: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("node did not shut down")
		}
	}
}
