package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/watertreat/scada-core/internal/config"
)

func newValidateConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "parse and structurally validate a configuration file without starting any transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			errs := config.Validate(cfg)
			if len(errs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "config OK")
				return nil
			}
			for _, e := range errs {
				fmt.Fprintln(cmd.OutOrStdout(), "error:", e)
			}
			return fmt.Errorf("%d configuration error(s)", len(errs))
		},
	}
}
