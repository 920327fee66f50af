package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/server"
)

var (
	servePort        int
	serveNoScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the outreach HTTP API",
	Long:  "Starts the HTTP server: run management, the approval endpoint, analytics and the email tracking pixel. The follow-up scheduler runs alongside it unless --no-scheduler is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           server.New(cfg, env.Store, env.Pipeline, env.LinkedIn).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if !serveNoScheduler {
			go func() {
				if err := env.Scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					zap.L().Error("scheduler exited", zap.Error(err))
				}
			}()
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("http server listening", zap.Int("port", port))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return eris.Wrap(err, "http server")
		case <-ctx.Done():
		}

		zap.L().Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "shutdown")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (defaults to server.port config)")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "do not run the follow-up scheduler alongside the server")
	rootCmd.AddCommand(serveCmd)
}
