package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/histeeria/chatcore/internal/config"
	"github.com/histeeria/chatcore/internal/store/postgres"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Message Store schema",
		Long:  "Creates the messages table and its indexes if they do not already exist.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx := context.Background()
			pool, err := pgxpool.New(ctx, cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			if _, err := pool.Exec(ctx, postgres.Schema); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}

			fmt.Println("schema applied")
			return nil
		},
	}
}
