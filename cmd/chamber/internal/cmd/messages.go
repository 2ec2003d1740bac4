package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/chamber"
	"github.com/opd-ai/chamber/identity"
	"github.com/opd-ai/chamber/limits"
	"github.com/opd-ai/chamber/messaging"
	"github.com/opd-ai/chamber/storage"
	"github.com/opd-ai/chamber/wire"
)

var (
	sendOffline  bool
	fileKind     string
	historyLimit int
	saveDir      string
)

var sendCmd = &cobra.Command{
	Use:   "send <public-id> <text...>",
	Short: "Send a text message",
	Long: `Send a text message. If the peer cannot be reached the message is
queued and delivered the next time either side connects.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMessenger(cmd, func(ctx context.Context, m *chamber.Messenger) error {
			startNetwork(ctx, m)
			res, err := m.SendText(ctx, args[0], strings.Join(args[1:], " "))
			return reportSend(cmd, res, err)
		})
	},
}

var sendFileCmd = &cobra.Command{
	Use:   "send-file <public-id> <path>",
	Short: "Send an image, audio clip or file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := wire.Kind(fileKind)
		if fileKind == "" {
			kind = kindForPath(args[1])
		}
		data, err := readAttachment(args[1])
		if err != nil {
			return err
		}
		return withMessenger(cmd, func(ctx context.Context, m *chamber.Messenger) error {
			startNetwork(ctx, m)
			res, err := m.SendAttachment(ctx, args[0], data, kind, filepath.Base(args[1]))
			return reportSend(cmd, res, err)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <public-id>",
	Short: "Show the conversation with a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMessenger(cmd, func(ctx context.Context, m *chamber.Messenger) error {
			entries, err := m.Conversation(ctx, args[0])
			if err != nil {
				return err
			}
			if historyLimit > 0 && len(entries) > historyLimit {
				entries = entries[len(entries)-historyLimit:]
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				who := identity.Short(e.Message.ContactID)
				if e.Message.Sent {
					who = "me"
				}
				fmt.Fprintf(out, "[%s] %-8s %s\n", e.Message.Timestamp.Format("2006-01-02 15:04"), who, describe(e))

				if saveDir != "" && e.Message.AttachmentRef != "" {
					if err := saveAttachment(ctx, m, args[0], e.Message); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "  could not save %s: %v\n", e.Message.Name, err)
					}
				}
			}
			return nil
		})
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending <public-id>",
	Short: "List messages queued for a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMessenger(cmd, func(ctx context.Context, m *chamber.Messenger) error {
			entries, err := m.Pending(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d queued for %s\n", len(entries), identity.Short(args[0]))
			for _, e := range entries {
				fmt.Fprintf(out, "  %s  %s  %d bytes\n", e.EnqueuedAt.Format("2006-01-02 15:04:05"), e.ID, len(e.Payload))
			}
			return nil
		})
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stay online, deliver queued messages and print incoming ones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMessenger(cmd, func(ctx context.Context, m *chamber.Messenger) error {
			out := cmd.OutOrStdout()
			m.OnMessage(func(msg chamber.IncomingMessage) {
				body := msg.Text
				if msg.Type.Binary() {
					body = fmt.Sprintf("[%s] %s", msg.Type, msg.Name)
				}
				fmt.Fprintf(out, "[%s] %s: %s\n", time.Now().Format("15:04:05"), identity.Short(msg.From), body)
			})
			m.OnPeerConnected(func(peer string) {
				fmt.Fprintf(out, "* %s connected\n", identity.Short(peer))
			})
			m.OnPeerDisconnected(func(peer string) {
				fmt.Fprintf(out, "* %s disconnected\n", identity.Short(peer))
			})

			if err := m.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(out, "Listening as %s. Press Ctrl+C to stop.\n", m.SelfID())
			<-ctx.Done()
			return m.Stop()
		})
	},
}

func init() {
	sendCmd.Flags().BoolVar(&sendOffline, "offline", false, "Queue without connecting")
	sendFileCmd.Flags().BoolVar(&sendOffline, "offline", false, "Queue without connecting")
	sendFileCmd.Flags().StringVarP(&fileKind, "kind", "k", "", "Attachment kind: image, audio or file (default from extension)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Show only the last n messages")
	historyCmd.Flags().StringVar(&saveDir, "save", "", "Decrypt attachments into this directory")
	RootCmd.AddCommand(sendCmd, sendFileCmd, historyCmd, pendingCmd, listenCmd)
}

// startNetwork brings the network up unless --offline is set. A failure
// only means the message will be queued.
func startNetwork(ctx context.Context, m *chamber.Messenger) {
	if sendOffline {
		return
	}
	if err := m.Start(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "startNetwork",
		}).WithError(err).Warn("Network unavailable, message will be queued")
	}
}

func reportSend(cmd *cobra.Command, res *messaging.SendResult, err error) error {
	if res == nil {
		return err
	}
	out := cmd.OutOrStdout()
	if res.Delivered {
		fmt.Fprintln(out, "Delivered.")
		return nil
	}
	if err != nil {
		fmt.Fprintf(out, "Stored but not sent: %v\n", err)
		return nil
	}
	fmt.Fprintln(out, "Peer unreachable; queued for later delivery.")
	return nil
}

func describe(e messaging.Entry) string {
	switch {
	case e.Unreadable:
		return messaging.UnreadablePlaceholder
	case e.Message.Type == wire.KindText:
		return e.Text
	default:
		return fmt.Sprintf("[%s] %s (%s)", e.Message.Type, e.Message.Name, e.Message.AttachmentRef)
	}
}

// saveAttachment decrypts msg's attachment into saveDir under its
// original base name.
func saveAttachment(ctx context.Context, m *chamber.Messenger, contactID string, msg *storage.Message) error {
	data, _, err := m.OpenAttachment(ctx, contactID, msg.AttachmentRef)
	if err != nil {
		return err
	}
	name := filepath.Base(msg.Name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = msg.AttachmentRef
	}
	if err := os.MkdirAll(saveDir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(saveDir, name), data, 0o600)
}

func kindForPath(path string) wire.Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp":
		return wire.KindImage
	case ".ogg", ".opus", ".mp3", ".wav", ".m4a", ".webm", ".aac":
		return wire.KindAudio
	}
	return wire.KindFile
}

func readAttachment(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limits.MaxAttachment+1))
	if err != nil {
		return nil, err
	}
	if err := limits.ValidateAttachment(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}
