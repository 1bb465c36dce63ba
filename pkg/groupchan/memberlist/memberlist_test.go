package memberlist

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/clusterbits/groupmon/pkg/groupchan"
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

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{Bind: ":7946"}); err == nil {
		t.Fatalf("expected error for empty NodeID")
	}
	if _, err := New(Options{NodeID: "t1"}); err == nil {
		t.Fatalf("expected error for empty Bind")
	}
}

func TestChannel_NotJoined(t *testing.T) {
	ch, err := New(Options{NodeID: "t1", Bind: "127.0.0.1:0", Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := ch.Local(); !errors.Is(err, groupchan.ErrNotJoined) {
		t.Fatalf("Local error = %v, want ErrNotJoined", err)
	}
	if _, _, err := ch.DispatchOne(); !errors.Is(err, groupchan.ErrNotJoined) {
		t.Fatalf("DispatchOne error = %v, want ErrNotJoined", err)
	}
	if err := ch.Leave(); !errors.Is(err, groupchan.ErrNotJoined) {
		t.Fatalf("Leave error = %v, want ErrNotJoined", err)
	}
}

func TestChannel_JoinDeliversInitialSnapshot(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(freePort(t)))
	ch, err := New(Options{NodeID: "t1", Bind: addr, Advertise: addr, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer ch.Close()

	if err := ch.Join(ctx, "pgsql_group"); err != nil {
		t.Fatalf("join: %v", err)
	}

	self, err := ch.Local()
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	if self.ID != "t1" || self.PID != os.Getpid() {
		t.Fatalf("local identity = %v", self)
	}

	select {
	case <-ch.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("no readiness signal after join")
	}
	res, cc, err := ch.DispatchOne()
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res != groupchan.MembershipChanged {
		t.Fatalf("result = %v, want MembershipChanged", res)
	}
	if len(cc.Members) != 1 || cc.Members[0] != self {
		t.Fatalf("initial snapshot = %v, want [%v]", cc.Members, self)
	}

	// non-blocking with an empty queue
	res, cc, err = ch.DispatchOne()
	if err != nil || res != groupchan.NoneReady || cc != nil {
		t.Fatalf("empty dispatch = (%v, %v, %v), want NoneReady", res, cc, err)
	}

	if err := ch.Join(ctx, "pgsql_group"); !errors.Is(err, groupchan.ErrAlreadyJoined) {
		t.Fatalf("second join error = %v, want ErrAlreadyJoined", err)
	}
}

func TestChannel_TwoNodesConvergeAndLeave(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	n1, addr1 := startNode(t, ctx, "n1", nil)
	defer n1.Close()
	n2, _ := startNode(t, ctx, "n2", []string{addr1})
	defer n2.Close()

	awaitMembers(t, n1, 2, 5*time.Second)
	awaitMembers(t, n2, 2, 5*time.Second)

	if err := n2.Leave(); err != nil {
		t.Fatalf("n2 leave: %v", err)
	}
	_ = n2.Close()

	awaitMembers(t, n1, 1, 10*time.Second)
}

func startNode(t *testing.T, ctx context.Context, id string, seeds []string) (groupchan.Channel, string) {
	t.Helper()
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(freePort(t)))
	ch, err := New(Options{
		NodeID:        id,
		Bind:          addr,
		Advertise:     addr,
		Seeds:         seeds,
		Logger:        quietLogger(),
		ProbeInterval: 100 * time.Millisecond,
		SuspicionMult: 2,
	})
	if err != nil {
		t.Fatalf("new %s: %v", id, err)
	}
	if err := ch.Join(ctx, "pgsql_group"); err != nil {
		t.Fatalf("join %s: %v", id, err)
	}
	return ch, addr
}

// awaitMembers drains notifications until the latest view has want members.
func awaitMembers(t *testing.T, ch groupchan.Channel, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	last := -1
	for {
		res, cc, err := ch.DispatchOne()
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if res == groupchan.MembershipChanged {
			last = len(cc.Members)
			if last == want {
				return
			}
			continue
		}
		if time.Now().After(deadline) {
			t.Fatalf("members timeout: last=%d want=%d", last, want)
		}
		select {
		case <-ch.Ready():
		case <-time.After(100 * time.Millisecond):
		}
	}
}
