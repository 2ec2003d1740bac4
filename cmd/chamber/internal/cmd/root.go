// Package cmd implements the CLI commands of the chamber client.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opd-ai/chamber"
	"github.com/opd-ai/chamber/config"
)

var (
	configPath string
	envFile    string
	dataDir    string
	backend    string
)

// RootCmd represents the base "chamber" command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "chamber",
	Short: "Peer-to-peer encrypted messenger",
	Long: `chamber sends end-to-end encrypted messages directly between peers.

Your identity is derived from 12 recovery codes; there are no accounts and
no servers that see your messages. Messages to offline contacts are queued
and delivered the next time either side connects.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default <data-dir>/"+config.DefaultFile+")")
	RootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file with CHAMBER_* variables")
	RootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Override the data directory")
	RootCmd.PersistentFlags().StringVar(&backend, "store", "", "Override the store backend (leveldb, redis, memory)")
}

// Execute adds all subcommands to the RootCmd and runs it.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := RootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if dataDir != "" {
		os.Setenv("CHAMBER_DATA_DIR", dataDir)
	}
	if backend != "" {
		os.Setenv("CHAMBER_STORE_BACKEND", backend)
	}
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyLogging()
	return cfg, nil
}

// openMessenger loads the configuration and opens the store. The caller
// must Kill the returned Messenger.
func openMessenger(ctx context.Context) (*chamber.Messenger, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Backend == config.BackendLevelDB {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, nil, err
		}
	}
	m, err := chamber.New(ctx, chamber.OptionsFromConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	return m, cfg, nil
}

// withMessenger runs fn against an opened Messenger that already has an
// identity.
func withMessenger(cmd *cobra.Command, fn func(ctx context.Context, m *chamber.Messenger) error) error {
	ctx := cmd.Context()
	m, _, err := openMessenger(ctx)
	if err != nil {
		return err
	}
	defer m.Kill()

	if m.SelfID() == "" {
		return fmt.Errorf("%w: run \"chamber init\" or \"chamber recover\" first", chamber.ErrNoIdentity)
	}
	return fn(ctx, m)
}
