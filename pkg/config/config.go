package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interval bounds in seconds. The upper bound keeps the millisecond
// conversion used by the wait primitive inside int32 range.
const (
	MinIntervalSeconds = 1
	MaxIntervalSeconds = math.MaxInt32 / 1000
)

// DefaultGroup is the well-known process group name.
const DefaultGroup = "pgsql_group"

// Config is the full runtime configuration. Interval is the only field the
// event loop re-reads on reload; ServiceUnit and UserService belong to the
// conninfo-propagation extension and are validated but otherwise unused by
// the core.
type Config struct {
	Group     string   `mapstructure:"group"`
	NodeID    string   `mapstructure:"node_id"`
	Interval  int      `mapstructure:"interval"`
	Bind      string   `mapstructure:"bind"`
	Advertise string   `mapstructure:"advertise"`
	Seeds     []string `mapstructure:"seeds"`

	Discovery string   `mapstructure:"discovery"`
	DNSNames  []string `mapstructure:"dns_names"`
	DNSPort   int      `mapstructure:"dns_port"`

	MgmtAddr  string `mapstructure:"mgmt_addr"`
	MgmtProto string `mapstructure:"mgmt_proto"`

	Probe       string `mapstructure:"probe"`
	ConnInfo    string `mapstructure:"conninfo"`
	StandbyFile string `mapstructure:"standby_file"`

	ServiceUnit string `mapstructure:"service_unit"`
	UserService bool   `mapstructure:"user_service"`

	LogJSON bool `mapstructure:"log_json"`

	TLS TLSConfig `mapstructure:"tls"`
}

// TLSConfig describes optional mTLS for the management endpoint.
type TLSConfig struct {
	Enable     bool   `mapstructure:"enable"`
	CA         string `mapstructure:"ca"`
	Cert       string `mapstructure:"cert"`
	Key        string `mapstructure:"key"`
	ServerName string `mapstructure:"server_name"`
	SkipVerify bool   `mapstructure:"skip_verify"`
}

// IntervalDuration returns the wakeup interval as a duration.
func (c *Config) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// Load reads configuration from the given file (optional), the GROUPMON_*
// environment and built-in defaults. The groupmon namespace is closed:
// unknown keys in the file fail validation so typos surface at startup
// instead of being silently ignored.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GROUPMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := rejectUnknownKeys(v); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	host, _ := os.Hostname()

	v.SetDefault("group", DefaultGroup)
	v.SetDefault("node_id", host)
	v.SetDefault("interval", 10)
	v.SetDefault("bind", ":7946")
	v.SetDefault("advertise", "")
	v.SetDefault("seeds", []string{})

	v.SetDefault("discovery", "static")
	v.SetDefault("dns_names", []string{})
	v.SetDefault("dns_port", 7946)

	v.SetDefault("mgmt_addr", ":17946")
	v.SetDefault("mgmt_proto", "http")

	v.SetDefault("probe", "postgres")
	v.SetDefault("conninfo", "")
	v.SetDefault("standby_file", "standby.signal")

	v.SetDefault("service_unit", "")
	v.SetDefault("user_service", false)

	v.SetDefault("log_json", false)

	v.SetDefault("tls.enable", false)
	v.SetDefault("tls.ca", "")
	v.SetDefault("tls.cert", "")
	v.SetDefault("tls.key", "")
	v.SetDefault("tls.server_name", "")
	v.SetDefault("tls.skip_verify", false)
}

// rejectUnknownKeys closes the configuration namespace: every key present in
// the file must have a registered default.
func rejectUnknownKeys(v *viper.Viper) error {
	known := make(map[string]struct{})
	fresh := viper.New()
	setDefaults(fresh)
	for _, k := range fresh.AllKeys() {
		known[k] = struct{}{}
	}
	for _, k := range v.AllKeys() {
		if _, ok := known[k]; !ok {
			return fmt.Errorf("config: unknown key %q", k)
		}
	}
	return nil
}

// Validate checks bounds and enumerations. A reload that fails validation
// must leave the previous configuration in effect.
func (c *Config) Validate() error {
	if c.Group == "" {
		return fmt.Errorf("config: group must not be empty")
	}
	if c.NodeID == "" {
		return fmt.Errorf("config: node_id must not be empty")
	}
	if c.Interval < MinIntervalSeconds || c.Interval > MaxIntervalSeconds {
		return fmt.Errorf("config: interval %d out of bounds [%d, %d]",
			c.Interval, MinIntervalSeconds, MaxIntervalSeconds)
	}
	switch c.Discovery {
	case "static", "dns":
	default:
		return fmt.Errorf("config: discovery must be static or dns, got %q", c.Discovery)
	}
	switch c.MgmtProto {
	case "http", "grpc":
	default:
		return fmt.Errorf("config: mgmt_proto must be http or grpc, got %q", c.MgmtProto)
	}
	switch c.Probe {
	case "postgres":
	case "file":
		if c.StandbyFile == "" {
			return fmt.Errorf("config: standby_file required with probe=file")
		}
	default:
		return fmt.Errorf("config: probe must be postgres or file, got %q", c.Probe)
	}
	if c.TLS.Enable && (c.TLS.Cert == "" || c.TLS.Key == "") {
		return fmt.Errorf("config: tls.cert and tls.key required when tls.enable is set")
	}
	return nil
}
