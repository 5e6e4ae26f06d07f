package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/tlsutil"
	"github.com/rmacdonaldsmith/meshbroker-go/pkg/brokerclient"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	address   string
	caFile    string
	insecure  bool
	serverURL string
	token     string
	timeout   time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:   "meshbroker-cli",
		Short: "meshbroker command line interface",
		Long: `meshbroker-cli talks to a meshbroker node. Messaging commands connect to the
clients listener over TLS WebSockets; admin and health commands use the admin HTTP API.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&g.address, "address", "localhost:12000", "node clients listener (host:port)")
	flags.StringVar(&g.caFile, "ca-file", "", "PEM CA bundle trusted for the node certificate")
	flags.BoolVar(&g.insecure, "insecure", false, "skip node certificate verification (development only)")
	flags.StringVar(&g.serverURL, "server", "http://localhost:8081", "admin API URL")
	flags.StringVar(&g.token, "token", os.Getenv("MESHBROKER_TOKEN"), "admin bearer token")
	flags.DurationVar(&g.timeout, "timeout", 10*time.Second, "request timeout")

	rootCmd.AddCommand(newPingCommand(g))
	rootCmd.AddCommand(newSubscribeCommand(g))
	rootCmd.AddCommand(newUnsubscribeCommand(g))
	rootCmd.AddCommand(newIsSubscribedCommand(g))
	rootCmd.AddCommand(newPublishCommand(g))
	rootCmd.AddCommand(newBroadcastCommand(g))
	rootCmd.AddCommand(newSendCommand(g))
	rootCmd.AddCommand(newListenCommand(g))
	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newAdminCommand(g))
	rootCmd.AddCommand(newHealthCommand(g))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func (g *globals) tlsConfig() (*tls.Config, error) {
	config := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: g.insecure}
	if g.caFile != "" {
		pool, err := tlsutil.LoadPool(g.caFile)
		if err != nil {
			return nil, err
		}
		config.RootCAs = pool
	}
	return config, nil
}

// dial connects to the node and waits for the welcome.
func (g *globals) dial(ctx context.Context) (*brokerclient.Conn, error) {
	tlsConfig, err := g.tlsConfig()
	if err != nil {
		return nil, err
	}
	conn, err := brokerclient.Dial(ctx, brokerclient.Config{
		Address:   g.address,
		TLSConfig: tlsConfig,
		Timeout:   g.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", g.address, err)
	}
	return conn, nil
}

func (g *globals) admin() (*brokerclient.AdminClient, error) {
	tlsConfig, err := g.tlsConfig()
	if err != nil {
		return nil, err
	}
	client, err := brokerclient.NewAdminClient(brokerclient.AdminConfig{
		ServerURL: g.serverURL,
		Token:     g.token,
		Timeout:   g.timeout,
		TLSConfig: tlsConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create admin client: %w", err)
	}
	return client, nil
}

// withConn runs fn on a fresh connection bounded by the request timeout.
func (g *globals) withConn(cmd *cobra.Command, fn func(ctx context.Context, conn *brokerclient.Conn) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	defer cancel()
	conn, err := g.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, conn)
}

func parsePayload(text string) (map[string]any, error) {
	payload := map[string]any{}
	if text == "" {
		return payload, nil
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON payload (want an object): %w", err)
	}
	return payload, nil
}
