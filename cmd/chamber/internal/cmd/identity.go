package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opd-ai/chamber"
	"github.com/opd-ai/chamber/config"
	"github.com/opd-ai/chamber/identity"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an identity and a configuration file",
	Long: `Create a new identity and print its 12 recovery codes.

The codes are shown only once. Anyone holding them can take over the
identity, and without them it cannot be recovered on another device.
A configuration file with the defaults is written to the data directory
if none exists.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, cfg, err := openMessenger(ctx)
		if err != nil {
			return err
		}
		defer m.Kill()

		if err := writeDefaultConfig(cfg); err != nil {
			return err
		}
		res, err := m.Bootstrap(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !res.Created {
			fmt.Fprintf(out, "Identity already exists: %s\n", res.Identity.PublicID)
			return nil
		}
		fmt.Fprintf(out, "Your public ID:\n  %s\n\n", res.Identity.PublicID)
		fmt.Fprintln(out, "Recovery codes (write them down, they will not be shown again):")
		for i, code := range res.Codes {
			fmt.Fprintf(out, "  %2d. %s\n", i+1, code)
		}
		return nil
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover [codes...]",
	Short: "Restore an identity from its 12 recovery codes",
	Long: `Restore an identity from its 12 recovery codes.

Codes may be given as arguments or typed on standard input, separated by
spaces, commas or newlines. Order and case do not matter.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input := strings.Join(args, " ")
		if input == "" {
			fmt.Fprintln(cmd.ErrOrStderr(), "Enter your 12 recovery codes, then an empty line:")
			lines, err := readLines(cmd)
			if err != nil {
				return err
			}
			input = strings.Join(lines, " ")
		}

		ctx := cmd.Context()
		m, _, err := openMessenger(ctx)
		if err != nil {
			return err
		}
		defer m.Kill()

		id, err := m.Recover(ctx, identity.ParseCodes(input))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recovered identity %s\n", id.PublicID)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the local identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMessenger(cmd, func(ctx context.Context, m *chamber.Messenger) error {
			id, err := m.Identity(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Public ID: %s\n", id.PublicID)
			name := id.DisplayName
			if name == "" {
				name = "(not set)"
			}
			fmt.Fprintf(out, "Name:      %s\n", name)
			fmt.Fprintf(out, "Created:   %s\n", id.CreatedAt.Format("2006-01-02 15:04"))
			return nil
		})
	},
}

var nameCmd = &cobra.Command{
	Use:   "name [display name]",
	Short: "Set the local display name; no argument clears it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMessenger(cmd, func(ctx context.Context, m *chamber.Messenger) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return m.SetDisplayName(ctx, name)
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify [codes...]",
	Short: "Check recovery codes against the stored identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMessenger(cmd, func(ctx context.Context, m *chamber.Messenger) error {
			ok, err := m.VerifyRecoveryCodes(ctx, identity.ParseCodes(strings.Join(args, " ")))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("recovery codes do not match this identity")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Recovery codes match.")
			return nil
		})
	},
}

func init() {
	RootCmd.AddCommand(initCmd, recoverCmd, whoamiCmd, nameCmd, verifyCmd)
}

func writeDefaultConfig(cfg *config.Config) error {
	path := configPath
	if path == "" {
		path = filepath.Join(cfg.DataDir, config.DefaultFile)
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return cfg.Save(path)
}

func readLines(cmd *cobra.Command) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}
