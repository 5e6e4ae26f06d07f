package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/httpapi"
)

func newHealthCommand(g *globals) *cobra.Command {
	var grpcAddress string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check node health",
		Long:  "Check node health through the admin API, or through the gRPC health service when --grpc is set.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()
			if grpcAddress != "" {
				return runGRPCHealth(ctx, cmd, grpcAddress)
			}
			return runHealth(ctx, cmd, g)
		},
	}
	cmd.Flags().StringVar(&grpcAddress, "grpc", "", "gRPC health address (host:port)")
	return cmd
}

func runHealth(ctx context.Context, cmd *cobra.Command, g *globals) error {
	client, err := g.admin()
	if err != nil {
		return err
	}
	health, err := client.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	out := cmd.OutOrStdout()
	if health.Healthy {
		fmt.Fprintf(out, "✅ Node %s is healthy\n", health.NodeID)
	} else {
		fmt.Fprintf(out, "❌ Node %s is not healthy\n", health.NodeID)
	}
	fmt.Fprintf(out, "Connected Clients: %d\n", health.ConnectedClients)
	fmt.Fprintf(out, "Mirrored Clients: %d\n", health.MirroredClients)
	fmt.Fprintf(out, "Connected Peers: %d\n", health.ConnectedPeers)
	fmt.Fprintf(out, "Subscriptions: %d\n", health.Subscriptions)
	fmt.Fprintf(out, "Uptime: %s\n", health.Uptime)
	if health.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", health.Message)
	}
	if !health.Healthy {
		return fmt.Errorf("node is not healthy")
	}
	return nil
}

func runGRPCHealth(ctx context.Context, cmd *cobra.Command, address string) error {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create grpc client: %w", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: httpapi.HealthService})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	status := resp.GetStatus()
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", httpapi.HealthService, status)
	if status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("node is %s", status)
	}
	return nil
}
