/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/trailhead-tours/apiserver/config"
	"github.com/trailhead-tours/apiserver/internal/logger"
	"github.com/trailhead-tours/apiserver/internal/server"
)

const shutdownGrace = 10 * time.Second

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the trailhead backend server",
	Long: `Starts the trailhead backend server. Usage:

	trailhead server
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.LoadConfig()

		lg, err := logger.Init(logger.ConfigFromEnv())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			_ = lg.Sync()
		}()
		sugar := lg.Sugar()

		srv, err := server.New(cmd.Context(), cfg, sugar)
		if err != nil {
			sugar.Fatalf("failed to start server: %v", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		sugar.Infow("server listening", "port", cfg.ServerPort, "env", cfg.Env)

		select {
		case err := <-errCh:
			// A listener fault is not recoverable; stop the process rather
			// than continue in an unknown state.
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				sugar.Fatalf("server error: %v", err)
			}
		case <-ctx.Done():
			sugar.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				sugar.Errorf("shutdown: %v", err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
