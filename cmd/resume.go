package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	resumeApprove bool
	resumeReject  bool
	resumeActor   string
	resumeNote    string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Apply an approval decision to a suspended run",
	Long:  "Approves or rejects a run suspended at the approval gate. Approval dispatches the generated content over the routed channel; rejection ends the run without sending anything.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if resumeApprove == resumeReject {
			return eris.New("exactly one of --approve or --reject is required")
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Pipeline.Resume(ctx, args[0], model.ApprovalDecision{
			Approved: resumeApprove,
			Actor:    resumeActor,
			Note:     resumeNote,
		})
		if err != nil {
			return err
		}

		zap.L().Info("decision applied",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeApprove, "approve", false, "approve the run and dispatch")
	resumeCmd.Flags().BoolVar(&resumeReject, "reject", false, "reject the run without dispatching")
	resumeCmd.Flags().StringVar(&resumeActor, "actor", "", "who made the decision")
	resumeCmd.Flags().StringVar(&resumeNote, "note", "", "optional decision note for the audit trail")
	rootCmd.AddCommand(resumeCmd)
}
