package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "scadad",
		Short: "PROFINET-to-Modbus SCADA gateway core",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "scadad.yaml", "path to the YAML configuration file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newValidateConfigCmd(&configPath))
	root.AddCommand(newGenRegmapCmd(&configPath))
	return root
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
