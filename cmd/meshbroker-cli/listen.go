package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshbroker-go/pkg/envelope"
)

func newListenCommand(g *globals) *cobra.Command {
	var (
		channels []string
		pretty   bool
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stay connected and print every push",
		Long: `Connect, subscribe to the given channels and print publish, broadcast and send
pushes as they arrive. Press Ctrl+C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runListen(ctx, cmd, g, channels, pretty, limit)
		},
	}

	cmd.Flags().StringSliceVar(&channels, "channel", nil, "channel to subscribe to (repeatable)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "pretty print payloads")
	cmd.Flags().IntVar(&limit, "count", 0, "exit after this many pushes (0 = unlimited)")
	return cmd
}

func runListen(ctx context.Context, cmd *cobra.Command, g *globals, channels []string, pretty bool, limit int) error {
	out := cmd.OutOrStdout()

	dialCtx, cancel := context.WithTimeout(ctx, g.timeout)
	conn, err := g.dial(dialCtx)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, channel := range channels {
		reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
		_, err := conn.Subscribe(reqCtx, channel)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}
	}

	fmt.Fprintf(out, "🌊 listening as %s on %s", conn.ClientID(), g.address)
	if len(channels) > 0 {
		fmt.Fprintf(out, " (channels: %v)", channels)
	}
	fmt.Fprintln(out)

	received := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "✅ stopped after %d push(es)\n", received)
			return nil
		case push, ok := <-conn.Messages():
			if !ok {
				if err := conn.Err(); err != nil {
					return fmt.Errorf("connection closed: %w", err)
				}
				fmt.Fprintf(out, "🔌 connection closed after %d push(es)\n", received)
				return nil
			}
			received++
			printPush(out, push, received, pretty)
			if limit > 0 && received >= limit {
				return nil
			}
		}
	}
}

func printPush(out io.Writer, push envelope.Push, n int, pretty bool) {
	fmt.Fprintf(out, "📨 #%d %s", n, push.Action)
	for _, key := range []string{"channel", "client_id", "from_client_id"} {
		if v, ok := push.Params[key].(string); ok {
			fmt.Fprintf(out, " %s=%s", key, v)
		}
	}
	fmt.Fprintln(out)

	payload := push.Params["payload"]
	var (
		body []byte
		err  error
	)
	if pretty {
		body, err = json.MarshalIndent(payload, "   ", "  ")
	} else {
		body, err = json.Marshal(payload)
	}
	if err != nil {
		fmt.Fprintf(out, "   %v\n", payload)
		return
	}
	fmt.Fprintf(out, "   %s\n", body)
}
