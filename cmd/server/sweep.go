package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/histeeria/chatcore/internal/chat"
	"github.com/histeeria/chatcore/internal/config"
	"github.com/histeeria/chatcore/internal/obs"
	"github.com/histeeria/chatcore/internal/store/postgres"
)

func sweepCmd() *cobra.Command {
	var horizonDays int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete delivered messages past the retention horizon",
		Long:  "Runs the retention sweep once and exits; intended for cron rather than the long-running server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := obs.New(cfg.Logging.Level, cfg.Logging.Format, "chatcore-sweep")

			ctx := context.Background()
			messageStore, err := postgres.New(ctx, cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("connect message store: %w", err)
			}
			defer messageStore.Close()

			chatSvc := chat.New(messageStore, nil, nil, nil, logger, nil)

			horizon := chat.DefaultRetentionHorizon
			if horizonDays > 0 {
				horizon = time.Duration(horizonDays) * 24 * time.Hour
			}

			removed, err := chatSvc.RunRetentionSweepOnce(ctx, horizon)
			if err != nil {
				return fmt.Errorf("run retention sweep: %w", err)
			}

			fmt.Printf("removed %d delivered messages older than %s\n", removed, horizon)
			return nil
		},
	}

	cmd.Flags().IntVar(&horizonDays, "horizon-days", 0, "override the retention horizon in days (default 30)")
	return cmd
}
