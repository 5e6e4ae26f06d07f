package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pkt.systems/pslog"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/discovery"
	"github.com/rmacdonaldsmith/meshbroker-go/internal/meshnode"
	"github.com/rmacdonaldsmith/meshbroker-go/internal/version"
)

// parse runs flag parsing and config loading without starting a node.
func parse(t *testing.T, args ...string) *settings {
	t.Helper()
	cmd := newRootCommand(pslog.NoopLogger())
	require.NoError(t, cmd.ParseFlags(args))

	v := newViper(cmd.PersistentFlags(), cmd.Flags())
	require.NoError(t, loadConfigFile(v))

	s, err := loadSettings(v)
	require.NoError(t, err)
	return s
}

func TestSettings_Defaults(t *testing.T) {
	s := parse(t)

	assert.Equal(t, meshnode.DefaultAddress, s.node.Address)
	assert.Equal(t, meshnode.DefaultThreads, s.node.Threads)
	assert.Equal(t, meshnode.DefaultSessionsPort, s.node.SessionsPort)
	assert.Equal(t, meshnode.DefaultClientsPort, s.node.ClientsPort)
	assert.False(t, s.node.IsNode)
	assert.Equal(t, int64(1000*1000), s.node.PeerLinkConfig.MaxMessageSize)
	assert.Equal(t, 1000, s.node.PeerLinkConfig.SendQueueSize)
	assert.Equal(t, 5*time.Second, s.node.PeerLinkConfig.HeartbeatInterval)
	assert.Equal(t, ":8081", s.admin)
	assert.Equal(t, "info", s.logLevel)
	assert.Nil(t, s.bootstrap())
}

func TestSettings_Flags(t *testing.T) {
	s := parse(t,
		"--address", "127.0.0.1",
		"--threads", "2",
		"--is-node",
		"--sessions-port", "11001",
		"--clients-port", "12001",
		"--remote-host", "10.0.0.5",
		"--remote-sessions-port", "11000",
		"--remote-clients-port", "12000",
		"--seed", "10.0.0.6:11000:12000",
		"--max-message-size", "64KiB",
		"--max-connections", "50",
		"--heartbeat-interval", "2s",
		"--ca-file", "/etc/mesh/ca.crt",
		"--session-cert", "/etc/mesh/node.crt",
		"--session-key-password", "hunter2",
	)

	assert.Equal(t, "127.0.0.1", s.node.Address)
	assert.Equal(t, 2, s.node.Threads)
	assert.True(t, s.node.IsNode)
	assert.Equal(t, 11001, s.node.SessionsPort)
	assert.Equal(t, 12001, s.node.ClientsPort)
	assert.Equal(t, 50, s.node.MaxConnections)
	assert.Equal(t, int64(64*1024), s.node.PeerLinkConfig.MaxMessageSize)
	assert.Equal(t, 2*time.Second, s.node.PeerLinkConfig.HeartbeatInterval)
	assert.Equal(t, "/etc/mesh/ca.crt", s.material.CAFile)
	assert.Equal(t, "/etc/mesh/node.crt", s.material.Session.CertFile)
	assert.Equal(t, "hunter2", s.material.Session.Password)

	d := s.bootstrap()
	require.NotNil(t, d)
	peers, err := d.FindPeers(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "10.0.0.5", peers[0].Host)
	assert.Equal(t, 11000, peers[0].SessionsPort)
	assert.Equal(t, "10.0.0.6", peers[1].Host)
}

func TestSettings_Env(t *testing.T) {
	t.Setenv("MESHBROKER_CLIENTS_PORT", "13000")
	t.Setenv("MESHBROKER_ADMIN_SECRET", "from-env")
	t.Setenv("MESHBROKER_DEV_TLS", "true")

	s := parse(t)
	assert.Equal(t, 13000, s.node.ClientsPort)
	assert.Equal(t, "from-env", s.secret)
	assert.True(t, s.devTLS)
}

func TestSettings_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshbroker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threads: 8\nsessions-port: 11500\nlog-level: debug\n"), 0o600))

	s := parse(t, "--config", path, "--threads", "3")
	assert.Equal(t, 3, s.node.Threads, "flags win over the config file")
	assert.Equal(t, 11500, s.node.SessionsPort)
	assert.Equal(t, "debug", s.logLevel)
}

func TestSettings_Errors(t *testing.T) {
	cases := map[string][]string{
		"bad size": {"--max-message-size", "lots"},
		"bad seed": {"--seed", "nohost"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			cmd := newRootCommand(pslog.NoopLogger())
			require.NoError(t, cmd.ParseFlags(args))
			_, err := loadSettings(newViper(cmd.Flags()))
			assert.Error(t, err)
		})
	}
}

func TestSettings_DevTLS(t *testing.T) {
	s := parse(t, "--dev-tls")
	configs, err := s.tlsConfigs()
	require.NoError(t, err)
	assert.NotNil(t, configs.Clients)
	assert.NotNil(t, configs.Sessions)
	assert.NotNil(t, configs.Dial)
}

func TestParseSeeds(t *testing.T) {
	peers, err := discovery.ParseSeeds([]string{"a:1:2", "b:3:4"})
	require.NoError(t, err)
	assert.Len(t, peers, 2)
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand(pslog.NoopLogger())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, version.Module()+" "+version.Current()+"\n", out.String())
}

func TestCertsCommand(t *testing.T) {
	dir := t.TempDir()
	cmd := newRootCommand(pslog.NoopLogger())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"certs", "--dir", dir})
	require.NoError(t, cmd.Execute())

	for _, name := range []string{"ca.crt", "node.crt", "node.key"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	assert.Contains(t, out.String(), filepath.Join(dir, "ca.crt"))

	s := parse(t,
		"--ca-file", filepath.Join(dir, "ca.crt"),
		"--clients-cert", filepath.Join(dir, "node.crt"), "--clients-key", filepath.Join(dir, "node.key"),
		"--sessions-cert", filepath.Join(dir, "node.crt"), "--sessions-key", filepath.Join(dir, "node.key"),
		"--session-cert", filepath.Join(dir, "node.crt"), "--session-key", filepath.Join(dir, "node.key"),
	)
	_, err := s.tlsConfigs()
	require.NoError(t, err)
}

func TestRun_StartsAndStops(t *testing.T) {
	s := parse(t,
		"--dev-tls",
		"--address", "127.0.0.1",
		"--sessions-port", "0",
		"--clients-port", "0",
		"--admin-listen", "127.0.0.1:0",
		"--grpc-listen", "",
		"--admin-secret", "secret",
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, s, pslog.NoopLogger()) }()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRun_InvalidLogLevel(t *testing.T) {
	s := parse(t, "--dev-tls", "--log-level", "loud")
	err := run(context.Background(), s, pslog.NoopLogger())
	assert.ErrorContains(t, err, "invalid log level")
}
