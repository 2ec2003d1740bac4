package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opd-ai/chamber"
	"github.com/opd-ai/chamber/identity"
)

var contactsCmd = &cobra.Command{
	Use:     "contacts",
	Aliases: []string{"contact"},
	Short:   "Manage contacts",
}

var contactsAddCmd = &cobra.Command{
	Use:   "add <public-id> [name]",
	Short: "Add a contact by public ID",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMessenger(cmd, func(ctx context.Context, m *chamber.Messenger) error {
			book, err := m.Contacts()
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			c, err := book.Add(ctx, args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", c.DisplayName, identity.Short(c.PublicID))
			return nil
		})
	},
}

var contactsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List contacts, most recently active first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMessenger(cmd, func(ctx context.Context, m *chamber.Messenger) error {
			book, err := m.Contacts()
			if err != nil {
				return err
			}
			contacts, err := book.List(ctx)
			if err != nil {
				return err
			}
			if len(contacts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No contacts.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPUBLIC ID\tUNREAD\tLAST")
			for _, c := range contacts {
				last := "-"
				if !c.LastMessageAt.IsZero() {
					last = fmt.Sprintf("%s %s", c.LastMessagePreview, c.LastMessageAt.Format("2006-01-02 15:04"))
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.DisplayName, c.PublicID, c.UnreadCount, last)
			}
			return w.Flush()
		})
	},
}

var contactsRenameCmd = &cobra.Command{
	Use:   "rename <public-id> [name]",
	Short: "Rename a contact; no name restores the default",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMessenger(cmd, func(ctx context.Context, m *chamber.Messenger) error {
			book, err := m.Contacts()
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			c, err := book.Rename(ctx, args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed to %s\n", c.DisplayName)
			return nil
		})
	},
}

var contactsRemoveCmd = &cobra.Command{
	Use:     "remove <public-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a contact with its conversation and queued messages",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMessenger(cmd, func(ctx context.Context, m *chamber.Messenger) error {
			book, err := m.Contacts()
			if err != nil {
				return err
			}
			return book.Remove(ctx, args[0])
		})
	},
}

var contactsReadCmd = &cobra.Command{
	Use:   "read <public-id>",
	Short: "Mark a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMessenger(cmd, func(ctx context.Context, m *chamber.Messenger) error {
			book, err := m.Contacts()
			if err != nil {
				return err
			}
			return book.MarkRead(ctx, args[0])
		})
	},
}

func init() {
	contactsCmd.AddCommand(contactsAddCmd, contactsListCmd, contactsRenameCmd, contactsRemoveCmd, contactsReadCmd)
	RootCmd.AddCommand(contactsCmd)
}
