package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshbroker-go/internal/tlsutil"
)

func newCertsCommand() *cobra.Command {
	var dir string
	var hosts []string
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Write a development CA and node certificate",
		Long:  "Write ca.crt, node.crt and node.key into --dir. The node certificate is valid for serving and for dialing peers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			material, err := tlsutil.WriteDevelopment(dir, hosts...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ca:   %s\n", material.CAFile)
			fmt.Fprintf(out, "cert: %s\n", material.ClientsListener.CertFile)
			fmt.Fprintf(out, "key:  %s\n", material.ClientsListener.KeyFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "certs", "output directory")
	cmd.Flags().StringSliceVar(&hosts, "host", nil, "DNS names or IPs for the node certificate (default localhost and loopback)")
	return cmd
}
