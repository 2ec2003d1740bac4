// Package cmd implements the CLI of the chamber signaling server.
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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/chamber/config"
	"github.com/opd-ai/chamber/signaling"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath string
	envFile    string
	listen     string
)

// RootCmd represents the base "chamber-signal" command.
var RootCmd = &cobra.Command{
	Use:   "chamber-signal",
	Short: "Signaling server for chamber peers",
	Long: `chamber-signal relays WebRTC offers, answers and ICE candidates between
chamber clients. It never sees message content; once peers are connected
their traffic flows directly between them.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listen != "" {
			os.Setenv("CHAMBER_SIGNAL_LISTEN", listen)
		}
		cfg, err := config.Load(configPath, envFile)
		if err != nil {
			return err
		}
		cfg.ApplyLogging()
		return serve(cmd.Context(), cfg.Signal.Listen)
	},
}

func init() {
	RootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	RootCmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to a .env file with CHAMBER_* variables")
	RootCmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on (default from config, :9000)")
}

// Execute runs the RootCmd until it returns or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := RootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// serve runs the signaling server on addr until ctx is cancelled, then
// shuts it down gracefully.
func serve(ctx context.Context, addr string) error {
	logger := logrus.StandardLogger()
	server := signaling.NewServer(logger)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"function": "serve",
			"addr":     addr,
		}).Info("Signaling server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.WithField("function", "serve").Info("Shutting down signaling server")
	server.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
