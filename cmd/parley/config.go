package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"parley/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Parley configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if ctx.configFlag != nil {
				path = *ctx.configFlag
			}
			if path == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = defaultPath
			}
			if err := config.WriteSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample config to %s\n", path)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config file:  %s\n", ctx.cfgPath)
			fmt.Fprintf(out, "Data dir:     %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "Log dir:      %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "Redis:        %s (db %d)\n", cfg.Redis.Addr, cfg.Redis.DB)
			fmt.Fprintf(out, "Queue:        %s (%d workers)\n", cfg.QueueKey(), cfg.Queue.Workers)
			fmt.Fprintf(out, "Lock lease:   %ds\n", cfg.Queue.LockLeaseSeconds)
			fmt.Fprintf(out, "Logging:      %s/%s\n", cfg.Logging.Format, cfg.Logging.Level)
			return nil
		},
	}

	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	return configCmd
}
