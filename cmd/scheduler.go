package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the follow-up scheduler loop",
	Long:  "Wakes on an interval, finds pending follow-ups whose scheduled time has passed, generates their content and sends them. Runs until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("scheduler starting",
			zap.Duration("wake_interval", cfg.Scheduler.WakeInterval()),
		)

		if err := env.Scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		zap.L().Info("scheduler stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schedulerCmd)
}
