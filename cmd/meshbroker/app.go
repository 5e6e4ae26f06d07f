package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/httpapi"
	"github.com/rmacdonaldsmith/meshbroker-go/internal/meshnode"
)

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var v *viper.Viper

	cmd := &cobra.Command{
		Use:           "meshbroker",
		Short:         "meshbroker is a federated real-time message broker over TLS WebSockets",
		SilenceErrors: true,
		Example: `
  # Start a new mesh with throwaway development certificates
  meshbroker --dev-tls

  # Join an existing mesh through its bootstrap node
  meshbroker --is-node --remote-host 10.0.0.5 --remote-sessions-port 11000 --remote-clients-port 12000 \
    --ca-file ca.crt --clients-cert node.crt --clients-key node.key \
    --sessions-cert node.crt --sessions-key node.key --session-cert node.crt --session-key node.key

  # Same, configured from the environment
  MESHBROKER_IS_NODE=true MESHBROKER_REMOTE_HOST=10.0.0.5 meshbroker --config meshbroker.yaml
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := loadConfigFile(v); err != nil {
				return err
			}
			s, err := loadSettings(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), s, baseLogger)
		},
	}

	persistent := cmd.PersistentFlags()
	persistent.StringP("config", "c", "", "path to a YAML/TOML/JSON config file")

	flags := cmd.Flags()
	flags.String("address", meshnode.DefaultAddress, "address both listeners bind to")
	flags.Int("threads", meshnode.DefaultThreads, "GOMAXPROCS for the node")
	flags.Bool("is-node", false, "join an existing mesh through --remote-host")
	flags.Int("sessions-port", meshnode.DefaultSessionsPort, "peer sessions listener port")
	flags.Int("clients-port", meshnode.DefaultClientsPort, "end-user clients listener port")
	flags.String("remote-host", meshnode.DefaultRemoteHost, "bootstrap node host")
	flags.Int("remote-sessions-port", meshnode.DefaultRemoteSessionsPort, "bootstrap node sessions port")
	flags.Int("remote-clients-port", meshnode.DefaultRemoteClientsPort, "bootstrap node clients port")
	flags.StringSlice("seed", nil, "additional bootstrap peers as host:sessions_port:clients_port (repeatable)")

	flags.String("ca-file", "", "PEM CA bundle trusted for peer certificates")
	for _, prefix := range []string{"clients", "sessions", "session"} {
		flags.String(prefix+"-cert", "", prefix+" certificate chain (PEM)")
		flags.String(prefix+"-key", "", prefix+" private key (PEM)")
		flags.String(prefix+"-key-password", "", prefix+" private key password")
	}
	flags.Bool("dev-tls", false, "mint an in-memory CA and node certificate (development only)")

	flags.String("max-message-size", "1MB", "largest accepted WebSocket frame (e.g. 512KiB, 4MB)")
	flags.Int("max-connections", 0, "maximum concurrent sockets per listener (0 = unlimited)")
	flags.Int("send-queue-size", 1000, "frames buffered per connection before drops")
	flags.Duration("heartbeat-interval", 5*time.Second, "WebSocket ping interval")
	flags.Duration("retry-interval", 3*time.Second, "delay between federation dial attempts")
	flags.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown deadline")

	flags.String("admin-listen", ":8081", "admin HTTP API listen address (empty disables)")
	flags.String("grpc-listen", ":9091", "gRPC health listen address (empty disables)")
	flags.String("admin-secret", "", "secret signing admin API tokens")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	v = newViper(persistent, flags)

	cmd.AddCommand(newCertsCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// newViper layers MESHBROKER_* env vars over the flag defaults.
func newViper(flagSets ...*pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("MESHBROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, flags := range flagSets {
		bindFlags(v, flags)
	}
	return v
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(flag *pflag.Flag) {
		if err := v.BindPFlag(flag.Name, flag); err != nil {
			panic(err)
		}
	})
}

func loadConfigFile(v *viper.Viper) error {
	path := strings.TrimSpace(v.GetString("config"))
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	return nil
}

func run(ctx context.Context, s *settings, baseLogger pslog.Logger) error {
	logger := baseLogger
	if s.logLevel != "" {
		level, ok := pslog.ParseLevel(s.logLevel)
		if !ok {
			return fmt.Errorf("invalid log level %q", s.logLevel)
		}
		logger = logger.LogLevel(level)
	}
	cliLogger := logger.With("sys", "cli.root")

	tlsConfigs, err := s.tlsConfigs()
	if err != nil {
		return fmt.Errorf("load tls material: %w", err)
	}
	if s.devTLS {
		cliLogger.Warn("tls.development", "message", "serving with throwaway development certificates")
	}
	s.node.TLS = tlsConfigs

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []meshnode.Option{
		meshnode.WithLogger(logger),
		meshnode.WithMetricsRegistry(reg),
	}
	if d := s.bootstrap(); d != nil {
		opts = append(opts, meshnode.WithDiscovery(d))
	}
	node, err := meshnode.NewNode(s.node, opts...)
	if err != nil {
		return err
	}
	if err := node.Start(ctx); err != nil {
		return err
	}

	var admin *httpapi.Server
	if s.admin != "" {
		if s.secret == "" {
			cliLogger.Warn("httpapi.disabled", "reason", "no --admin-secret configured")
		} else {
			admin, err = httpapi.NewServer(node, httpapi.Config{
				Address:     s.admin,
				GRPCAddress: s.grpc,
				SecretKey:   s.secret,
				Gatherer:    reg,
				Logger:      logger,
			})
			if err == nil {
				err = admin.Start(ctx)
			}
			if err != nil {
				_ = node.Close()
				return err
			}
		}
	}

	cliLogger.Info("node.ready",
		"node_id", node.ID(),
		"clients_addr", node.ClientsAddr(),
		"sessions_addr", node.SessionsAddr(),
		"pid", os.Getpid(),
	)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.drainTime)
	defer cancel()
	var errs []error
	if admin != nil {
		errs = append(errs, admin.Stop(shutdownCtx))
	}
	errs = append(errs, node.Stop(shutdownCtx))
	_ = node.Close()
	cliLogger.Info("node.shutdown")
	return errors.Join(errs...)
}
