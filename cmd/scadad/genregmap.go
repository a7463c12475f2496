package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/watertreat/scada-core/internal/config"
	"github.com/watertreat/scada-core/internal/regmap"
)

func newGenRegmapCmd(configPath *string) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "gen-regmap",
		Short: "auto-generate a register map from the configured RTU list and write it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			devices, err := cfg.ToDeviceConfigs()
			if err != nil {
				return err
			}
			rm := regmap.GenerateAll(devices, cfg.RegisterMap.ToGenerateOptions())
			if outPath == "" {
				outPath = cfg.RegisterMap.Path
			}
			if outPath == "" {
				return fmt.Errorf("gen-regmap: no output path given (pass --out or set register_map.path)")
			}
			if err := rm.SaveFile(outPath); err != nil {
				return err
			}
			holding, input, coils := rm.Counts()
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d holding, %d input, %d coils\n", outPath, holding, input, coils)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "output path (defaults to register_map.path from the config file)")
	return cmd
}
