package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opd-ai/chamber"
)

var (
	passphrase string
	outPath    string
	confirmed  bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all local data",
	Long: `Export identity, contacts, messages, attachments and the offline queue.

Messages stay encrypted in the export, but the identity and contact list do
not. Use --passphrase (or CHAMBER_BACKUP_PASSPHRASE) to seal the whole file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMessenger(cmd, func(ctx context.Context, m *chamber.Messenger) error {
			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" && outPath != "-" {
				f, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return m.Export(ctx, w, backupPassphrase())
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace all local data with an export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirmed {
			return fmt.Errorf("import replaces all local data; pass --yes to continue")
		}
		ctx := cmd.Context()
		m, _, err := openMessenger(ctx)
		if err != nil {
			return err
		}
		defer m.Kill()

		var r io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		if err := m.Import(ctx, r, backupPassphrase()); err != nil {
			return err
		}

		stats, err := m.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d contacts, %d messages, %d attachments, %d queued.\n",
			stats.Contacts, stats.Messages, stats.Attachments, stats.Queued)
		return nil
	},
}

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete all local data including the identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirmed {
			return fmt.Errorf("wipe deletes the identity and all messages; pass --yes to continue")
		}
		ctx := cmd.Context()
		m, _, err := openMessenger(ctx)
		if err != nil {
			return err
		}
		defer m.Kill()
		return m.Wipe(ctx)
	},
}

func init() {
	for _, c := range []*cobra.Command{exportCmd, importCmd} {
		c.Flags().StringVarP(&passphrase, "passphrase", "p", "", "Backup passphrase (default $CHAMBER_BACKUP_PASSPHRASE)")
	}
	exportCmd.Flags().StringVarP(&outPath, "out", "o", "-", "Write the export to this file")
	importCmd.Flags().BoolVarP(&confirmed, "yes", "y", false, "Confirm replacing local data")
	wipeCmd.Flags().BoolVarP(&confirmed, "yes", "y", false, "Confirm deleting local data")
	RootCmd.AddCommand(exportCmd, importCmd, wipeCmd)
}

func backupPassphrase() string {
	if passphrase != "" {
		return passphrase
	}
	return os.Getenv("CHAMBER_BACKUP_PASSPHRASE")
}
