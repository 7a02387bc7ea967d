package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

func newCheckConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if show, _ := cmd.Flags().GetBool("print"); show {
				if cfg.MQTT.Password != "" {
					cfg.MQTT.Password = redacted
				}
				if cfg.InfluxDB.Token != "" {
					cfg.InfluxDB.Token = redacted
				}

				data, err := yaml.Marshal(cfg)
				if err != nil {
					return fmt.Errorf("encoding config: %w", err)
				}
				fmt.Fprint(out, string(data))
			}

			fmt.Fprintln(out, "configuration OK")

			return nil
		},
	}

	cmd.Flags().Bool("print", false, "Print the effective configuration with secrets redacted")

	return cmd
}
