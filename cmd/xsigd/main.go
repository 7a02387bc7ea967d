// Xsigd is a gateway daemon that accepts a Crestron control-system connection over XSIG and
// bridges its joins to MQTT, InfluxDB and Prometheus.
//
// Usage:
//
//	xsigd serve --config /etc/xsigd.yaml
//
// See 'xsigd --help' for all commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "xsigd",
		Short: "XSIG gateway daemon",
		Long: `A gateway that listens for a Crestron control system speaking XSIG over TCP.

Join values are kept in memory and can be mirrored to an MQTT broker, recorded in InfluxDB
and monitored through a Prometheus endpoint.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "Path to the YAML configuration file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newCheckConfigCmd())
	root.AddCommand(newDiscoverCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "xsigd %s (commit: %s)\n", version, commit)
		},
	})

	return root
}
