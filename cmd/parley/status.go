package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"parley/internal/queue"
	"parley/internal/redisconn"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue health and channel depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()

			if err := st.CheckHealth(cmd.Context()); err != nil {
				fmt.Fprintf(out, "Database:    UNHEALTHY (%v)\n", err)
			} else {
				fmt.Fprintf(out, "Database:    ok (%s)\n", st.Path())
			}

			health, err := st.Health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Jobs:        %d total / %d pending / %d processing / %d completed / %d failed\n",
				health.Total, health.Pending, health.Processing, health.Completed, health.Failed)

			rdb, err := ctx.redisClient()
			if err != nil {
				return err
			}
			defer rdb.Close()

			if err := redisconn.Ping(cmd.Context(), rdb); err != nil {
				fmt.Fprintf(out, "Coordination: UNREACHABLE (%v)\n", err)
				return nil
			}
			q := queue.New(cfg, st, rdb, nil)
			depth, err := q.Depth(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Queue:       %s (%d waiting)\n", cfg.QueueKey(), depth)
			return nil
		},
	}
}
