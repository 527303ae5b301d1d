// File: cmd/services.go
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/chatloom/internal/config"
)

func newServicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List the configured chat services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			descs, err := configuredServices(cfg)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tENABLED\tURL")
			for _, d := range descs {
				enabled := "yes"
				if d.Disabled {
					enabled = "no"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Name, enabled, d.URL)
			}
			return w.Flush()
		},
	}
}

// configuredServices returns the descriptors from the selectors file when one is
// set, otherwise the built-ins merged with the config's services.
func configuredServices(cfg *config.Config) ([]config.ServiceDescriptor, error) {
	if path := cfg.SelectorsFile(); path != "" {
		return config.LoadServicesFile(path)
	}
	return cfg.Services(), nil
}
