package dns

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/clusterbits/groupmon/pkg/discovery"
)

// Options configures DNS-based seed discovery.
type Options struct {
	// Names are SRV records or hostnames to resolve. Examples:
	// "_groupmon._tcp.example.com" (SRV) or "replica1.example.com" (A/AAAA).
	Names []string

	// Port used for A/AAAA answers, which carry no port information.
	Port int

	// Refresh controls cache staleness; if zero, defaults to 5s.
	Refresh time.Duration

	// Resolver optionally overrides the DNS resolver used.
	Resolver *net.Resolver
}

type resolver struct {
	opts  Options
	mu    sync.Mutex
	last  time.Time
	cache []string
}

// New returns a DNS-backed discovery resolving SRV and A/AAAA names, caching
// results for the Refresh duration.
func New(opts Options) discovery.Discovery {
	if opts.Refresh <= 0 {
		opts.Refresh = 5 * time.Second
	}
	if opts.Port == 0 {
		opts.Port = 7946
	}
	return &resolver{opts: opts}
}

func (d *resolver) Seeds() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if time.Since(d.last) < d.opts.Refresh && len(d.cache) > 0 {
		return append([]string(nil), d.cache...)
	}
	d.cache = d.resolveAll(context.Background())
	d.last = time.Now()
	return append([]string(nil), d.cache...)
}

func (d *resolver) resolveAll(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(hp string) {
		if _, ok := seen[hp]; !ok {
			out = append(out, hp)
			seen[hp] = struct{}{}
		}
	}
	for _, name := range d.opts.Names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		// host:port entries pass through unresolved
		if strings.Contains(name, ":") && !strings.HasPrefix(name, "_") {
			add(name)
			continue
		}
		if strings.HasPrefix(name, "_") && strings.Contains(name, "._") {
			if recs := d.lookupSRV(ctx, name); len(recs) > 0 {
				for _, hp := range recs {
					add(hp)
				}
				continue
			}
		}
		for _, hp := range d.lookupHost(ctx, name, d.opts.Port) {
			add(hp)
		}
	}
	sort.Strings(out)
	return out
}

func (d *resolver) lookupSRV(ctx context.Context, fqdn string) []string {
	svc, proto, domain := splitSRVName(fqdn)
	if svc == "" || proto == "" || domain == "" {
		return nil
	}
	res := d.opts.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	_, addrs, err := res.LookupSRV(ctx, svc, proto, domain)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		host := strings.TrimSuffix(a.Target, ".")
		out = append(out, net.JoinHostPort(host, strconv.Itoa(int(a.Port))))
	}
	return out
}

func (d *resolver) lookupHost(ctx context.Context, host string, port int) []string {
	res := d.opts.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	ips, err := res.LookupHost(ctx, host)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		out = append(out, net.JoinHostPort(ip, strconv.Itoa(port)))
	}
	return out
}

// splitSRVName parses the _service._proto.name convention.
func splitSRVName(fqdn string) (service, proto, name string) {
	parts := strings.SplitN(fqdn, ".", 3)
	if len(parts) < 3 {
		return "", "", ""
	}
	return strings.TrimPrefix(parts[0], "_"), strings.TrimPrefix(parts[1], "_"), parts[2]
}
