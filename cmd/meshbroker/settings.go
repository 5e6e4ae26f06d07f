package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/discovery"
	"github.com/rmacdonaldsmith/meshbroker-go/internal/meshnode"
	"github.com/rmacdonaldsmith/meshbroker-go/internal/peerlink"
	"github.com/rmacdonaldsmith/meshbroker-go/internal/tlsutil"
	peerlinkpkg "github.com/rmacdonaldsmith/meshbroker-go/pkg/peerlink"
)

// settings is everything the root command reads from flags, env and file.
type settings struct {
	node      *meshnode.Config
	seeds     []peerlinkpkg.PeerAddress
	material  tlsutil.Material
	devTLS    bool
	admin     string
	grpc      string
	secret    string
	logLevel  string
	drainTime time.Duration
}

func loadSettings(v *viper.Viper) (*settings, error) {
	maxMessage, err := humanize.ParseBytes(strings.TrimSpace(v.GetString("max-message-size")))
	if err != nil {
		return nil, fmt.Errorf("parse max-message-size: %w", err)
	}
	seeds, err := discovery.ParseSeeds(v.GetStringSlice("seed"))
	if err != nil {
		return nil, err
	}

	node := meshnode.NewConfig(nil).
		WithPorts(v.GetInt("sessions-port"), v.GetInt("clients-port")).
		WithMaxConnections(v.GetInt("max-connections")).
		WithPeerLinkConfig(&peerlink.Config{
			SendQueueSize:     v.GetInt("send-queue-size"),
			HeartbeatInterval: v.GetDuration("heartbeat-interval"),
			MaxMessageSize:    int64(maxMessage),
			RetryInterval:     v.GetDuration("retry-interval"),
		})
	node.Address = strings.TrimSpace(v.GetString("address"))
	node.Threads = v.GetInt("threads")
	node.RemoteHost = strings.TrimSpace(v.GetString("remote-host"))
	node.RemoteSessionsPort = v.GetInt("remote-sessions-port")
	node.RemoteClientsPort = v.GetInt("remote-clients-port")
	node.IsNode = v.GetBool("is-node")

	keyPair := func(prefix string) tlsutil.KeyPair {
		return tlsutil.KeyPair{
			CertFile: v.GetString(prefix + "-cert"),
			KeyFile:  v.GetString(prefix + "-key"),
			Password: v.GetString(prefix + "-key-password"),
		}
	}

	return &settings{
		node:  node,
		seeds: seeds,
		material: tlsutil.Material{
			CAFile:           v.GetString("ca-file"),
			ClientsListener:  keyPair("clients"),
			SessionsListener: keyPair("sessions"),
			Session:          keyPair("session"),
		},
		devTLS:    v.GetBool("dev-tls"),
		admin:     strings.TrimSpace(v.GetString("admin-listen")),
		grpc:      strings.TrimSpace(v.GetString("grpc-listen")),
		secret:    v.GetString("admin-secret"),
		logLevel:  strings.TrimSpace(v.GetString("log-level")),
		drainTime: v.GetDuration("shutdown-timeout"),
	}, nil
}

// tlsConfigs loads the TLS material or mints development certificates.
func (s *settings) tlsConfigs() (*tlsutil.Configs, error) {
	if s.devTLS {
		configs, _, err := tlsutil.Development()
		return configs, err
	}
	return tlsutil.Load(s.material)
}

// bootstrap returns the discovery source, or nil when the node starts a
// new mesh.
func (s *settings) bootstrap() discovery.Discovery {
	seeds := append([]peerlinkpkg.PeerAddress(nil), s.seeds...)
	if s.node.IsNode {
		seeds = append([]peerlinkpkg.PeerAddress{s.node.Remote()}, seeds...)
	}
	if len(seeds) == 0 {
		return nil
	}
	return discovery.NewStaticDiscovery(seeds...)
}
