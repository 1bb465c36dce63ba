package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clusterbits/groupmon/pkg/config"
	"github.com/clusterbits/groupmon/pkg/discovery"
	dDNS "github.com/clusterbits/groupmon/pkg/discovery/dns"
	dStatic "github.com/clusterbits/groupmon/pkg/discovery/static"
	"github.com/clusterbits/groupmon/pkg/groupchan"
	gcml "github.com/clusterbits/groupmon/pkg/groupchan/memberlist"
	"github.com/clusterbits/groupmon/pkg/internal/logutil"
	"github.com/clusterbits/groupmon/pkg/monitor"
	"github.com/clusterbits/groupmon/pkg/role"
	pgrole "github.com/clusterbits/groupmon/pkg/role/postgres"
	tlsx "github.com/clusterbits/groupmon/pkg/security/tlsconfig"
	"github.com/clusterbits/groupmon/pkg/transport"
	mgmtgrpc "github.com/clusterbits/groupmon/pkg/transport/grpc"
	"github.com/clusterbits/groupmon/pkg/transport/httpjson"
)

// App is an assembled monitor node: the event loop, its group channel, the
// management server and the interrupt mailbox, built from one Config.
type App struct {
	Config     *config.Config
	Monitor    *monitor.Monitor
	Channel    groupchan.Channel
	Interrupts *monitor.Interrupts

	server  transport.StatusServer
	logger  *log.Logger
	cleanup []func()
}

// Build loads configuration from configPath (empty means defaults plus
// environment) and assembles an App without starting any network activity.
func Build(ctx context.Context, configPath string, logger *log.Logger) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return BuildWithConfig(ctx, configPath, cfg, logger)
}

// BuildWithConfig assembles an App from an already-loaded configuration.
// configPath is kept so reload interrupts re-read the same file.
func BuildWithConfig(ctx context.Context, configPath string, cfg *config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.LogJSON {
		logutil.SetJSON(true)
	}

	app := &App{Config: cfg, logger: logger}

	// Discovery backend
	var disc discovery.Discovery
	switch cfg.Discovery {
	case "dns":
		disc = dDNS.New(dDNS.Options{Names: cfg.DNSNames, Port: cfg.DNSPort})
	default:
		disc = dStatic.New(cfg.Seeds...)
	}

	ch, err := gcml.New(gcml.Options{
		NodeID:    cfg.NodeID,
		Bind:      cfg.Bind,
		Advertise: cfg.Advertise,
		Seeds:     disc.Seeds(),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	app.Channel = ch

	probe, err := app.buildProbe(ctx)
	if err != nil {
		return nil, err
	}

	app.Interrupts = monitor.NewInterrupts()

	mon, err := monitor.New(monitor.Options{
		Channel:    ch,
		Detector:   role.NewDetector(probe),
		Group:      cfg.Group,
		Interval:   cfg.IntervalDuration(),
		Interrupts: app.Interrupts,
		Reload:     reloadFunc(configPath, cfg),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	app.Monitor = mon

	srv, err := buildServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	app.server = srv
	return app, nil
}

func (a *App) buildProbe(ctx context.Context) (role.Probe, error) {
	switch a.Config.Probe {
	case "file":
		return role.FileProbe(a.Config.StandbyFile), nil
	default:
		prober, err := pgrole.New(ctx, a.Config.ConnInfo)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: postgres probe: %w", err)
		}
		a.cleanup = append(a.cleanup, prober.Close)
		return prober.Probe(), nil
	}
}

// reloadFunc re-reads the configuration file and returns the new wakeup
// interval. Identity and group changes need a restart and reject the reload,
// keeping the running configuration in effect.
func reloadFunc(configPath string, cfg *config.Config) func() (time.Duration, error) {
	return func() (time.Duration, error) {
		nc, err := config.Load(configPath)
		if err != nil {
			return 0, err
		}
		if nc.Group != cfg.Group {
			return 0, fmt.Errorf("bootstrap: group change requires restart")
		}
		if nc.NodeID != cfg.NodeID {
			return 0, fmt.Errorf("bootstrap: node_id change requires restart")
		}
		return nc.IntervalDuration(), nil
	}
}

func buildServer(cfg *config.Config, logger *log.Logger) (transport.StatusServer, error) {
	var srvTLS *tls.Config
	if cfg.TLS.Enable {
		topts := tlsx.Options{
			Enable:             true,
			CAFile:             cfg.TLS.CA,
			CertFile:           cfg.TLS.Cert,
			KeyFile:            cfg.TLS.Key,
			ServerName:         cfg.TLS.ServerName,
			InsecureSkipVerify: cfg.TLS.SkipVerify,
		}
		s, err := topts.Server()
		if err != nil {
			return nil, err
		}
		srvTLS = s
	}
	switch cfg.MgmtProto {
	case "grpc":
		s := mgmtgrpc.NewServer(cfg.MgmtAddr)
		if srvTLS != nil {
			s.UseTLS(srvTLS)
		}
		return s, nil
	default:
		s := httpjson.NewServer(cfg.MgmtAddr, logger)
		if srvTLS != nil {
			s.UseTLS(srvTLS)
		}
		return s, nil
	}
}

// NewStatusClient returns the status client matching the configured
// management protocol, with TLS applied when enabled.
func NewStatusClient(cfg *config.Config) (transport.StatusClient, error) {
	var cliTLS *tls.Config
	if cfg.TLS.Enable {
		topts := tlsx.Options{
			Enable:             true,
			CAFile:             cfg.TLS.CA,
			CertFile:           cfg.TLS.Cert,
			KeyFile:            cfg.TLS.Key,
			ServerName:         cfg.TLS.ServerName,
			InsecureSkipVerify: cfg.TLS.SkipVerify,
		}
		c, err := topts.Client()
		if err != nil {
			return nil, err
		}
		cliTLS = c
	}
	switch cfg.MgmtProto {
	case "grpc":
		c := mgmtgrpc.NewClient(3 * time.Second)
		if cliTLS != nil {
			c.UseTLS(cliTLS)
		}
		return c, nil
	default:
		c := httpjson.NewClient(3 * time.Second)
		if cliTLS != nil {
			c.UseTLS(cliTLS)
		}
		return c, nil
	}
}

// Run wires OS signals to the interrupt mailbox, starts the management
// server, and drives the monitor until shutdown or a fatal error. The group
// channel is always left and closed on the way out.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGTERM, os.Interrupt, syscall.SIGHUP)
	defer signal.Stop(sigs)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				switch sig {
				case syscall.SIGHUP:
					logutil.Infof(a.logger, "[groupmon] reload requested")
					a.Interrupts.RequestReload()
				default:
					logutil.Infof(a.logger, "[groupmon] shutdown requested (%s)", sig)
					a.Interrupts.RequestShutdown()
				}
			}
		}
	}()

	if err := a.server.Start(ctx, a.Monitor.StatusJSON); err != nil {
		return fmt.Errorf("bootstrap: management server: %w", err)
	}
	defer func() { _ = a.server.Stop(context.Background()) }()

	defer a.Close()
	return a.Monitor.Run(ctx)
}

// Close releases the channel and any probe resources. Safe to call after Run.
func (a *App) Close() {
	if a.Channel != nil {
		_ = a.Channel.Leave()
		_ = a.Channel.Close()
		a.Channel = nil
	}
	for _, f := range a.cleanup {
		f()
	}
	a.cleanup = nil
}
