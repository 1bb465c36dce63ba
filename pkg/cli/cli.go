package cli

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/clusterbits/groupmon/pkg/bootstrap"
	"github.com/clusterbits/groupmon/pkg/config"
	tracing "github.com/clusterbits/groupmon/pkg/observability/tracing"
	tlsx "github.com/clusterbits/groupmon/pkg/security/tlsconfig"
	"github.com/clusterbits/groupmon/pkg/transport"
	mgmtgrpc "github.com/clusterbits/groupmon/pkg/transport/grpc"
	httpjson "github.com/clusterbits/groupmon/pkg/transport/httpjson"
)

// AddAll attaches the monitor subcommands (run/status/validate) to the
// provided root command.
func AddAll(root *cobra.Command) {
	root.AddCommand(NewRunCmd())
	root.AddCommand(NewStatusCmd())
	root.AddCommand(NewValidateCmd())
}

// NewRunCmd returns the "run" command used to start the monitor daemon.
func NewRunCmd() *cobra.Command {
	var (
		configPath                           string
		id, group, bind, adv, joinCSV        string
		mgmtAddr, mgmtProto, probe, conninfo string
		standbyFile                          string
		interval                             int
		traceEnable                          bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the group monitor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			if traceEnable {
				shutdown, err := tracing.Setup(true)
				if err != nil {
					log.Printf("tracing setup error: %v", err)
				} else {
					defer func() { _ = shutdown(context.Background()) }()
				}
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyOverride(cmd, "id", &cfg.NodeID, id)
			applyOverride(cmd, "group", &cfg.Group, group)
			applyOverride(cmd, "bind", &cfg.Bind, bind)
			applyOverride(cmd, "advertise", &cfg.Advertise, adv)
			applyOverride(cmd, "mgmt-addr", &cfg.MgmtAddr, mgmtAddr)
			applyOverride(cmd, "mgmt-proto", &cfg.MgmtProto, mgmtProto)
			applyOverride(cmd, "probe", &cfg.Probe, probe)
			applyOverride(cmd, "conninfo", &cfg.ConnInfo, conninfo)
			applyOverride(cmd, "standby-file", &cfg.StandbyFile, standbyFile)
			if cmd.Flags().Changed("join") {
				cfg.Seeds = splitCSV(joinCSV)
			}
			if cmd.Flags().Changed("interval") {
				cfg.Interval = interval
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			app, err := bootstrap.BuildWithConfig(ctx, configPath, cfg, log.Default())
			if err != nil {
				return err
			}
			return app.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file (YAML/TOML/JSON)")
	cmd.Flags().StringVar(&id, "id", "", "node id (defaults to hostname)")
	cmd.Flags().StringVar(&group, "group", config.DefaultGroup, "process group name")
	cmd.Flags().StringVar(&bind, "bind", ":7946", "gossip bind addr (host:port)")
	cmd.Flags().StringVar(&adv, "advertise", "", "gossip advertise addr (host:port, optional)")
	cmd.Flags().StringVar(&joinCSV, "join", "", "comma-separated seed nodes (host:port)")
	cmd.Flags().IntVar(&interval, "interval", 10, "wakeup interval in seconds")
	cmd.Flags().StringVar(&mgmtAddr, "mgmt-addr", ":17946", "management address (tcp), separate from gossip port")
	cmd.Flags().StringVar(&mgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
	cmd.Flags().StringVar(&probe, "probe", "postgres", "role probe backend: postgres|file")
	cmd.Flags().StringVar(&conninfo, "conninfo", "", "postgres connection string for the role probe")
	cmd.Flags().StringVar(&standbyFile, "standby-file", "standby.signal", "marker file checked by probe=file")
	cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
	return cmd
}

func applyOverride(cmd *cobra.Command, flag string, dst *string, val string) {
	if cmd.Flags().Changed(flag) {
		*dst = val
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
	var (
		addr, mgmtProto                       string
		timeout                               time.Duration
		tlsEnable, tlsSkip                    bool
		tlsCA, tlsCert, tlsKey, tlsServerName string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch a node's status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			var client transport.StatusClient
			var cliTLS *tls.Config
			if tlsEnable {
				topts := tlsx.Options{Enable: true, CAFile: tlsCA, CertFile: tlsCert, KeyFile: tlsKey, InsecureSkipVerify: tlsSkip, ServerName: tlsServerName}
				var err error
				cliTLS, err = topts.Client()
				if err != nil {
					return fmt.Errorf("tls client config: %w", err)
				}
			}
			switch mgmtProto {
			case "grpc":
				cli := mgmtgrpc.NewClient(timeout)
				if cliTLS != nil {
					cli.UseTLS(cliTLS)
				}
				client = cli
			default:
				cli := httpjson.NewClient(timeout)
				if cliTLS != nil {
					cli.UseTLS(cliTLS)
				}
				client = cli
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			data, err := client.GetStatus(ctx, addr)
			if err != nil {
				return fmt.Errorf("status error: %w", err)
			}
			os.Stdout.Write(data)
			if len(data) == 0 || data[len(data)-1] != '\n' {
				os.Stdout.Write([]byte("\n"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17946", "management address of a node (host:port)")
	cmd.Flags().StringVar(&mgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	cmd.Flags().BoolVar(&tlsEnable, "tls-enable", false, "enable mTLS for management transport")
	cmd.Flags().StringVar(&tlsCA, "tls-ca", "", "path to CA cert (PEM)")
	cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "path to client certificate (PEM)")
	cmd.Flags().StringVar(&tlsKey, "tls-key", "", "path to client private key (PEM)")
	cmd.Flags().BoolVar(&tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
	cmd.Flags().StringVar(&tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
	return cmd
}

// NewValidateCmd returns the "validate" command, which checks a config file
// the same way a SIGHUP reload would.
func NewValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file without starting the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("ok: group=%s node_id=%s interval=%ds\n", cfg.Group, cfg.NodeID, cfg.Interval)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file (YAML/TOML/JSON)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
