package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/brokerclient"
)

func newPingCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connect and ping a node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withConn(cmd, func(ctx context.Context, conn *brokerclient.Conn) error {
				if err := conn.Ping(ctx); err != nil {
					return fmt.Errorf("ping failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ pong from %s (client %s)\n", g.address, conn.ClientID())
				return nil
			})
		},
	}
}

func newSubscribeCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <channel>",
		Short: "Subscribe a fresh connection to a channel",
		Long:  "Subscribe a fresh connection to a channel. The subscription ends when the command exits; use listen to keep it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withConn(cmd, func(ctx context.Context, conn *brokerclient.Conn) error {
				changed, err := conn.Subscribe(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to subscribe: %w", err)
				}
				printChange(cmd, "subscribe", args[0], changed)
				return nil
			})
		},
	}
}

func newUnsubscribeCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "unsubscribe <channel>",
		Short: "Unsubscribe a fresh connection from a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withConn(cmd, func(ctx context.Context, conn *brokerclient.Conn) error {
				changed, err := conn.Unsubscribe(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to unsubscribe: %w", err)
				}
				printChange(cmd, "unsubscribe", args[0], changed)
				return nil
			})
		},
	}
}

func newIsSubscribedCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "is-subscribed <channel>",
		Short: "Ask whether a fresh connection is subscribed to a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withConn(cmd, func(ctx context.Context, conn *brokerclient.Conn) error {
				subscribed, err := conn.IsSubscribed(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to query subscription: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %t\n", args[0], subscribed)
				return nil
			})
		},
	}
}

func newPublishCommand(g *globals) *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "publish <channel>",
		Short: "Publish a JSON object to a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := parsePayload(payload)
			if err != nil {
				return err
			}
			return g.withConn(cmd, func(ctx context.Context, conn *brokerclient.Conn) error {
				n, err := conn.Publish(ctx, args[0], body)
				if err != nil {
					return fmt.Errorf("failed to publish: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ published to %s (%d local subscriber(s))\n", args[0], n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "{}", "payload as a JSON object")
	return cmd
}

func newBroadcastCommand(g *globals) *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Broadcast a JSON object to every client in the mesh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := parsePayload(payload)
			if err != nil {
				return err
			}
			return g.withConn(cmd, func(ctx context.Context, conn *brokerclient.Conn) error {
				n, err := conn.Broadcast(ctx, body)
				if err != nil {
					return fmt.Errorf("failed to broadcast: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ broadcast sent (%d local client(s))\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "{}", "payload as a JSON object")
	return cmd
}

func newSendCommand(g *globals) *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "send <client_id>",
		Short: "Send a JSON object to a single client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := parsePayload(payload)
			if err != nil {
				return err
			}
			return g.withConn(cmd, func(ctx context.Context, conn *brokerclient.Conn) error {
				delivered, err := conn.Send(ctx, args[0], body)
				if err != nil {
					return fmt.Errorf("failed to send: %w", err)
				}
				printChange(cmd, "send", args[0], delivered)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "{}", "payload as a JSON object")
	return cmd
}

func printChange(cmd *cobra.Command, verb, channel string, changed bool) {
	if changed {
		fmt.Fprintf(cmd.OutOrStdout(), "✅ %s %s: ok\n", verb, channel)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: no effect\n", verb, channel)
}
