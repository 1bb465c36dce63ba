package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/clusterbits/groupmon/pkg/groupchan"
	gcml "github.com/clusterbits/groupmon/pkg/groupchan/memberlist"
	"github.com/clusterbits/groupmon/pkg/monitor"
	"github.com/clusterbits/groupmon/pkg/role"
)

// groupdemo runs a monitor against a file-based probe so the daemon can be
// exercised on a laptop without PostgreSQL: touch the marker file to demote
// the node, remove it to promote.
func main() {
	var (
		id      = flag.String("id", "node-1", "node id")
		bind    = flag.String("bind", ":7946", "bind host:port")
		joinCSV = flag.String("join", "", "comma-separated seeds (host:port)")
		group   = flag.String("group", "pgsql_group", "process group name")
		marker  = flag.String("marker", "standby.signal", "standby marker file")
	)
	flag.Parse()

	ctx, cancel := signalContext()
	defer cancel()

	ch, err := gcml.New(gcml.Options{NodeID: *id, Bind: *bind, Seeds: splitCSV(*joinCSV), Logger: log.Default()})
	if err != nil {
		log.Fatal(err)
	}
	defer closeChannel(ch)

	ints := monitor.NewInterrupts()
	go func() {
		<-ctx.Done()
		ints.RequestShutdown()
	}()

	mon, err := monitor.New(monitor.Options{
		Channel:    ch,
		Detector:   role.NewDetector(role.FileProbe(*marker)),
		Group:      *group,
		Interval:   10 * time.Second,
		Interrupts: ints,
		Logger:     log.Default(),
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("groupdemo started. Press Ctrl+C to exit.")
	if err := mon.Run(ctx); err != nil {
		log.Fatal(err)
	}
}

func closeChannel(ch groupchan.Channel) {
	_ = ch.Leave()
	_ = ch.Close()
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	return ctx, cancel
}
