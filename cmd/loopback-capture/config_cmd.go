package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/loopback/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logCloser, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer logCloser.Close()

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		if path := config.Path(); path != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", path)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with the default settings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.SaveTo(config.Default(), path); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration written")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}
