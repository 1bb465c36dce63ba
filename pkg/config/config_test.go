package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "groupmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, DefaultGroup, cfg.Group)
	require.Equal(t, 10, cfg.Interval)
	require.Equal(t, ":7946", cfg.Bind)
	require.Equal(t, ":17946", cfg.MgmtAddr)
	require.Equal(t, "http", cfg.MgmtProto)
	require.Equal(t, "postgres", cfg.Probe)
	require.NotEmpty(t, cfg.NodeID, "node_id should default to hostname")
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
group: reporting_group
node_id: replica1
interval: 30
probe: file
standby_file: /var/lib/pgsql/data/standby.signal
seeds:
  - 10.0.0.1:7946
  - 10.0.0.2:7946
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "reporting_group", cfg.Group)
	require.Equal(t, "replica1", cfg.NodeID)
	require.Equal(t, 30, cfg.Interval)
	require.Equal(t, "file", cfg.Probe)
	require.Len(t, cfg.Seeds, 2)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, `
group: pgsql_group
intervall: 30
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown key")
}

func TestLoad_IntervalBounds(t *testing.T) {
	for _, bad := range []string{"interval: 0", "interval: -5", "interval: 2147484"} {
		path := writeConfig(t, bad+"\n")
		_, err := Load(path)
		require.Error(t, err, "config %q should be rejected", bad)
		require.Contains(t, err.Error(), "out of bounds")
	}

	path := writeConfig(t, "interval: 1\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Interval)
}

func TestValidate_Enums(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Discovery = "multicast"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.MgmtProto = "thrift"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Probe = "mysql"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Probe = "file"
	cfg.StandbyFile = ""
	require.Error(t, cfg.Validate())
}

func TestValidate_TLSPairing(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.TLS.Enable = true
	cfg.TLS.Cert = "/etc/groupmon/node.pem"
	require.Error(t, cfg.Validate(), "key missing")

	cfg.TLS.Key = "/etc/groupmon/node.key"
	require.NoError(t, cfg.Validate())
}

func TestIntervalDuration(t *testing.T) {
	cfg := &Config{Interval: 25}
	require.Equal(t, "25s", cfg.IntervalDuration().String())
}
