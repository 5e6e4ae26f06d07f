package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/brokerclient"
)

func newAdminCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin commands (requires an admin token)",
		Long:  "Inspect a node's sessions, clients and subscriptions through the admin API",
	}

	cmd.AddCommand(newAdminSessionsCommand(g))
	cmd.AddCommand(newAdminClientsCommand(g))
	cmd.AddCommand(newAdminSubscriptionsCommand(g))
	cmd.AddCommand(newAdminStatsCommand(g))
	cmd.AddCommand(newAdminDumpCommand(g))

	return cmd
}

// adminRun wraps fn with an authenticated admin client and the request timeout.
func adminRun(g *globals, fn func(ctx context.Context, cmd *cobra.Command, client *brokerclient.AdminClient) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if g.token == "" {
			return fmt.Errorf("admin token required - run 'meshbroker-cli token' or provide --token")
		}
		client, err := g.admin()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
		defer cancel()
		return fn(ctx, cmd, client)
	}
}

func newAdminSessionsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List peer sessions",
		Args:  cobra.NoArgs,
		RunE: adminRun(g, func(ctx context.Context, cmd *cobra.Command, client *brokerclient.AdminClient) error {
			response, err := client.ListSessions(ctx)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(response.Sessions) == 0 {
				fmt.Fprintln(out, "No peer sessions")
				return nil
			}
			fmt.Fprintf(out, "Found %d session(s):\n\n", len(response.Sessions))
			for i, s := range response.Sessions {
				fmt.Fprintf(out, "%d. Session ID: %s\n", i+1, s.ID)
				fmt.Fprintf(out, "   Role: %s\n", s.Role)
				fmt.Fprintf(out, "   Address: %s sessions=%d clients=%d\n", s.Host, s.SessionsPort, s.ClientsPort)
				fmt.Fprintf(out, "   Registered: %t\n", s.Registered)
				fmt.Fprintf(out, "   Connected At: %s (%s)\n", s.ConnectedAt.Format("2006-01-02 15:04:05"), humanize.Time(s.ConnectedAt))
			}
			return nil
		}),
	}
}

func newAdminClientsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "clients",
		Short: "List local and mirrored clients",
		Args:  cobra.NoArgs,
		RunE: adminRun(g, func(ctx context.Context, cmd *cobra.Command, client *brokerclient.AdminClient) error {
			response, err := client.ListClients(ctx)
			if err != nil {
				return fmt.Errorf("failed to list clients: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(response.Clients) == 0 {
				fmt.Fprintln(out, "No clients known")
				return nil
			}
			fmt.Fprintf(out, "Found %d client(s):\n\n", len(response.Clients))
			for i, c := range response.Clients {
				where := "mirrored via " + c.SessionID
				if c.Local {
					where = "local"
				}
				fmt.Fprintf(out, "%d. Client ID: %s (%s)\n", i+1, c.ID, where)
				fmt.Fprintf(out, "   Connected At: %s (%s)\n", c.ConnectedAt.Format("2006-01-02 15:04:05"), humanize.Time(c.ConnectedAt))
			}
			return nil
		}),
	}
}

func newAdminSubscriptionsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "subscriptions",
		Short: "List every subscription known to the node",
		Args:  cobra.NoArgs,
		RunE: adminRun(g, func(ctx context.Context, cmd *cobra.Command, client *brokerclient.AdminClient) error {
			response, err := client.ListSubscriptions(ctx)
			if err != nil {
				return fmt.Errorf("failed to list subscriptions: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(response.Subscriptions) == 0 {
				fmt.Fprintln(out, "No subscriptions")
				return nil
			}
			fmt.Fprintf(out, "Found %d subscription(s):\n\n", len(response.Subscriptions))
			for i, sub := range response.Subscriptions {
				fmt.Fprintf(out, "%d. %s <- %s (session %s)\n", i+1, sub.Channel, sub.ClientID, sub.SessionID)
			}
			return nil
		}),
	}
}

func newAdminStatsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show node statistics",
		Args:  cobra.NoArgs,
		RunE: adminRun(g, func(ctx context.Context, cmd *cobra.Command, client *brokerclient.AdminClient) error {
			response, err := client.GetStats(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "📊 Node %s\n\n", response.NodeID)
			fmt.Fprintf(out, "Sessions: %d\n", response.Sessions)
			fmt.Fprintf(out, "Local Clients: %d\n", response.LocalClients)
			fmt.Fprintf(out, "Mirrored Clients: %d\n", response.MirroredClients)
			fmt.Fprintf(out, "Subscriptions: %d\n", response.Subscriptions)
			fmt.Fprintf(out, "Channels: %d\n", response.Channels)
			fmt.Fprintf(out, "Uptime: %s\n", response.Uptime)
			return nil
		}),
	}
}

func newAdminDumpCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the full registry as JSON",
		Args:  cobra.NoArgs,
		RunE: adminRun(g, func(ctx context.Context, cmd *cobra.Command, client *brokerclient.AdminClient) error {
			snapshot, err := client.Dump(ctx)
			if err != nil {
				return fmt.Errorf("failed to dump registry: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snapshot)
		}),
	}
}
