package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-xsig/internal/discovery"
)

func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List XSIG gateways advertised on the local network",
		RunE: func(cmd *cobra.Command, _ []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			service, _ := cmd.Flags().GetString("service")

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			endpoints, err := discovery.Browse(ctx, service)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(endpoints) == 0 {
				fmt.Fprintln(out, "no gateways found")
				return nil
			}

			for _, ep := range endpoints {
				fmt.Fprintf(out, "%s\t%s\tversion=%s\n", ep.Instance, ep.Address(), ep.Metadata["version"])
			}

			return nil
		},
	}

	cmd.Flags().Duration("timeout", discovery.DefaultBrowseTimeout, "How long to listen for advertisements")
	cmd.Flags().String("service", discovery.ServiceType, "mDNS service type")

	return cmd
}
