package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	runObjective   string
	runIntent      string
	runUrgency     string
	runLocation    string
	runTargetEmail string
	runTargetPhone string
	runCampaign    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the outreach pipeline for a single request",
	Long:  "Classifies the request, builds the ideal customer profile, routes a channel and generates content. Unless auto-approve is configured the run suspends at the approval gate; resume it with 'outreach-cli resume'.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Pipeline.Run(ctx, model.Request{
			Objective:   runObjective,
			Intent:      runIntent,
			Urgency:     model.ParseUrgency(runUrgency),
			Location:    runLocation,
			TargetEmail: runTargetEmail,
			TargetPhone: runTargetPhone,
			Campaign:    runCampaign,
		})
		if err != nil {
			return err
		}

		zap.L().Info("run finished",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
			zap.String("channel", string(run.Channel)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	runCmd.Flags().StringVar(&runObjective, "objective", "", "what this outreach should achieve (required)")
	runCmd.Flags().StringVar(&runIntent, "intent", "", "underlying intent, e.g. book meetings")
	runCmd.Flags().StringVar(&runUrgency, "urgency", "medium", "low, medium or high")
	runCmd.Flags().StringVar(&runLocation, "location", "", "geographic focus")
	runCmd.Flags().StringVar(&runTargetEmail, "target-email", "", "explicit recipient email (overrides matched lead)")
	runCmd.Flags().StringVar(&runTargetPhone, "target-phone", "", "explicit recipient phone (overrides matched lead)")
	runCmd.Flags().StringVar(&runCampaign, "campaign", "", "campaign label for tracking")
	_ = runCmd.MarkFlagRequired("objective")
	rootCmd.AddCommand(runCmd)
}
