package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opd-ai/chamber"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show storage counts and retry queued messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMessenger(cmd, func(ctx context.Context, m *chamber.Messenger) error {
			stats, err := m.Stats(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Contacts:    %d\n", stats.Contacts)
			fmt.Fprintf(out, "Messages:    %d\n", stats.Messages)
			fmt.Fprintf(out, "Attachments: %d\n", stats.Attachments)
			fmt.Fprintf(out, "Queued:      %d\n", stats.Queued)
			if stats.Queued == 0 {
				return nil
			}

			if err := m.Start(ctx); err != nil {
				fmt.Fprintf(out, "Network unavailable: %v\n", err)
				return nil
			}
			reached, err := m.RetryPending(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Reached %d peers with queued messages.\n", reached)
			return nil
		})
	},
}

func init() {
	RootCmd.AddCommand(statusCmd)
}
