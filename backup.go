package chamber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chamber/crypto"
	"github.com/opd-ai/chamber/storage"
)

// maxBackupSize bounds how much Import reads.
const maxBackupSize = 1 << 30

// Export writes every collection as JSON. With a passphrase the JSON is
// sealed with crypto.SealBackup.
func (m *Messenger) Export(ctx context.Context, w io.Writer, passphrase string) error {
	snap, err := m.store.Export(ctx)
	if err != nil {
		return err
	}

	if passphrase == "" {
		return snap.WriteJSON(w)
	}

	var buf bytes.Buffer
	if err := snap.WriteJSON(&buf); err != nil {
		return err
	}
	plain := buf.Bytes()
	defer crypto.ZeroBytes(plain)

	sealed, err := crypto.SealBackup(plain, []byte(passphrase))
	if err != nil {
		return err
	}
	_, err = w.Write(sealed)
	return err
}

// Import replaces all local data with an export. The network must be
// stopped. The passphrase must match the one used for Export, or be empty
// for a plain JSON export.
func (m *Messenger) Import(ctx context.Context, r io.Reader, passphrase string) error {
	if m.busy() {
		return ErrRunning
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBackupSize))
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}
	if passphrase != "" {
		if data, err = crypto.OpenBackup(data, []byte(passphrase)); err != nil {
			return err
		}
		defer crypto.ZeroBytes(data)
	}

	snap, err := storage.ReadSnapshot(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if err := m.store.Import(ctx, snap); err != nil {
		return err
	}

	m.resetIdentity()
	if err := m.loadIdentity(ctx); err != nil && !errors.Is(err, storage.ErrNoIdentity) {
		return err
	}
	return nil
}

// Wipe stops the network and deletes all local data, identity included.
func (m *Messenger) Wipe(ctx context.Context) error {
	m.stopNetwork()
	if err := m.store.Clear(ctx); err != nil {
		return err
	}
	m.resetIdentity()

	logrus.WithField("function", "Wipe").Warn("All local data wiped")
	return nil
}

func (m *Messenger) resetIdentity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.self = nil
	m.msgs = nil
	m.contacts = nil
	m.seen.Reset()
}
