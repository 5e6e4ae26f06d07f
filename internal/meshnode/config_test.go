package meshnode

import (
	"errors"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/peerlink"
	"github.com/rmacdonaldsmith/meshbroker-go/internal/tlsutil"
)

func devTLS(t *testing.T) *tlsutil.Configs {
	t.Helper()
	configs, _, err := tlsutil.Development()
	if err != nil {
		t.Fatalf("Expected development TLS material, got %v", err)
	}
	return configs
}

// TestConfig_NewConfig tests creating new configuration with defaults
func TestConfig_NewConfig(t *testing.T) {
	config := NewConfig(nil)

	if config.Address != "0.0.0.0" {
		t.Errorf("Expected Address '0.0.0.0', got '%s'", config.Address)
	}
	if config.Threads != 4 {
		t.Errorf("Expected Threads 4, got %d", config.Threads)
	}
	if config.IsNode {
		t.Error("Expected IsNode to default to false")
	}
	if config.SessionsPort != 11000 || config.ClientsPort != 12000 {
		t.Errorf("Expected ports 11000/12000, got %d/%d", config.SessionsPort, config.ClientsPort)
	}
	if config.RemoteHost != "localhost" || config.RemoteSessionsPort != 9000 || config.RemoteClientsPort != 10000 {
		t.Errorf("Expected remote localhost:9000/10000, got %+v", config.Remote())
	}
	if config.PeerLinkConfig != nil {
		t.Errorf("Expected PeerLinkConfig to be nil, got %v", config.PeerLinkConfig)
	}
}

// TestConfig_Validate tests configuration validation
func TestConfig_Validate(t *testing.T) {
	tlsConfigs := devTLS(t)

	tests := []struct {
		name      string
		config    *Config
		wantError bool
		errorType error
	}{
		{
			name:      "valid config",
			config:    NewConfig(tlsConfigs),
			wantError: false,
		},
		{
			name: "empty address",
			config: func() *Config {
				c := NewConfig(tlsConfigs)
				c.Address = ""
				return c
			}(),
			wantError: true,
			errorType: ErrEmptyAddress,
		},
		{
			name:      "port out of range",
			config:    NewConfig(tlsConfigs).WithPorts(70000, 0),
			wantError: true,
			errorType: ErrInvalidPort,
		},
		{
			name:      "missing tls",
			config:    NewConfig(nil),
			wantError: true,
			errorType: ErrMissingTLS,
		},
		{
			name:      "joining without remote",
			config:    NewConfig(tlsConfigs).WithRemote("", 0, 0),
			wantError: true,
			errorType: ErrMissingRemote,
		},
		{
			name: "zero threads",
			config: func() *Config {
				c := NewConfig(tlsConfigs)
				c.Threads = 0
				return c
			}(),
			wantError: true,
			errorType: ErrInvalidThreads,
		},
		{
			name:      "invalid peerlink config",
			config:    NewConfig(tlsConfigs).WithPeerLinkConfig(&peerlink.Config{SendQueueSize: -1}),
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantError {
				if err == nil {
					t.Errorf("Expected error for %s, got nil", tt.name)
				}
				if tt.errorType != nil && !errors.Is(err, tt.errorType) {
					t.Errorf("Expected error %v, got %v", tt.errorType, err)
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error for %s, got %v", tt.name, err)
				}
			}
		})
	}
}

// TestConfig_WithMethods tests the fluent configuration methods
func TestConfig_WithMethods(t *testing.T) {
	plc := &peerlink.Config{RetryInterval: time.Second}
	config := NewConfig(nil).
		WithPorts(0, 0).
		WithRemote("10.0.0.1", 11000, 12000).
		WithPeerLinkConfig(plc).
		WithMaxConnections(64)

	if config.SessionsPort != 0 || config.ClientsPort != 0 {
		t.Errorf("Expected ports 0/0, got %d/%d", config.SessionsPort, config.ClientsPort)
	}
	if !config.IsNode {
		t.Error("Expected WithRemote to set IsNode")
	}
	if config.Remote().SessionsAddr() != "10.0.0.1:11000" {
		t.Errorf("Expected remote sessions address '10.0.0.1:11000', got '%s'", config.Remote().SessionsAddr())
	}
	if config.PeerLinkConfig != plc {
		t.Error("Expected PeerLinkConfig to be set")
	}
	if config.MaxConnections != 64 {
		t.Errorf("Expected MaxConnections 64, got %d", config.MaxConnections)
	}

	config.SetDefaults()
	if plc.RetryInterval != time.Second {
		t.Errorf("Expected RetryInterval to be preserved, got %v", plc.RetryInterval)
	}
	if plc.SendQueueSize != 1000 {
		t.Errorf("Expected SendQueueSize default, got %d", plc.SendQueueSize)
	}
}
