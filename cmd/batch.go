package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	batchFile        string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run the pipeline for many requests from a JSONL file",
	Long:  "Reads one request per line (JSON objects matching the run flags) and executes them concurrently. Each run suspends at the approval gate as usual.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := os.Open(batchFile)
		if err != nil {
			return eris.Wrapf(err, "open %s", batchFile)
		}
		defer f.Close()

		var requests []model.Request
		scanner := bufio.NewScanner(f)
		line := 0
		for scanner.Scan() {
			line++
			text := scanner.Bytes()
			if len(text) == 0 {
				continue
			}
			var req model.Request
			if err := json.Unmarshal(text, &req); err != nil {
				return eris.Wrapf(err, "parse line %d", line)
			}
			requests = append(requests, req)
		}
		if err := scanner.Err(); err != nil {
			return eris.Wrap(err, "read batch file")
		}
		if len(requests) == 0 {
			fmt.Fprintln(os.Stderr, "No requests in batch file.")
			return nil
		}

		var succeeded, failed atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(batchConcurrency)

		for _, req := range requests {
			g.Go(func() error {
				run, err := env.Pipeline.Run(gctx, req)
				if err != nil {
					failed.Add(1)
					zap.L().Error("batch: run failed",
						zap.String("objective", req.Objective),
						zap.Error(err),
					)
					return nil // one bad request never stops the batch
				}
				succeeded.Add(1)
				zap.L().Info("batch: run finished",
					zap.String("run_id", run.ID),
					zap.String("status", string(run.Status)),
				)
				return nil
			})
		}
		_ = g.Wait()

		fmt.Fprintf(os.Stdout, "batch complete: %d succeeded, %d failed\n", succeeded.Load(), failed.Load())
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "JSONL file of requests (required)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 4, "max concurrent runs")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}
