package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chamber/identity"
)

// SnapshotVersion is the current export format version.
const SnapshotVersion = 1

// ErrSnapshotVersion indicates an export produced by an unknown format version.
var ErrSnapshotVersion = errors.New("unsupported snapshot version")

// Snapshot is a full export of the local state. Message and attachment
// contents remain encrypted.
type Snapshot struct {
	Version     int               `json:"version"`
	ExportedAt  time.Time         `json:"exportedAt"`
	Identity    *Identity         `json:"identity,omitempty"`
	Contacts    []*Contact        `json:"contacts"`
	Messages    []*Message        `json:"messages"`
	Attachments []*Attachment     `json:"attachments"`
	Outbound    []*QueuedOutbound `json:"outbound"`
}

func getAll[T any](ctx context.Context, s *Store, coll string) ([]*T, error) {
	recs, err := s.db.GetAll(ctx, coll)
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", coll, err)
	}
	return decodeAll[T](recs)
}

// Export collects every collection into a Snapshot.
func (s *Store) Export(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Version: SnapshotVersion, ExportedAt: s.timeProvider.Now()}

	id, err := s.GetIdentity(ctx)
	switch {
	case err == nil:
		snap.Identity = id
	case !errors.Is(err, ErrNoIdentity):
		return nil, err
	}

	if snap.Contacts, err = getAll[Contact](ctx, s, CollContacts); err != nil {
		return nil, err
	}
	if snap.Messages, err = getAll[Message](ctx, s, CollMessages); err != nil {
		return nil, err
	}
	if snap.Attachments, err = getAll[Attachment](ctx, s, CollAttachments); err != nil {
		return nil, err
	}
	if snap.Outbound, err = getAll[QueuedOutbound](ctx, s, CollOutbound); err != nil {
		return nil, err
	}
	sortQueue(snap.Outbound)

	logrus.WithFields(logrus.Fields{
		"function":    "Export",
		"contacts":    len(snap.Contacts),
		"messages":    len(snap.Messages),
		"attachments": len(snap.Attachments),
		"queued":      len(snap.Outbound),
	}).Info("Exported local data")

	return snap, nil
}

// Import replaces all local state with the snapshot contents.
func (s *Store) Import(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version)
	}
	if snap.Identity != nil {
		if err := identity.ValidatePublicID(snap.Identity.PublicID); err != nil {
			return fmt.Errorf("snapshot identity rejected: %w", err)
		}
	}

	if err := s.Clear(ctx); err != nil {
		return err
	}
	if snap.Identity != nil {
		if err := s.SaveIdentity(ctx, snap.Identity); err != nil {
			return err
		}
	}
	for _, c := range snap.Contacts {
		if err := s.PutContact(ctx, c); err != nil {
			return err
		}
	}
	for _, m := range snap.Messages {
		if err := s.AddMessage(ctx, m); err != nil {
			return err
		}
	}
	for _, a := range snap.Attachments {
		if err := s.PutAttachment(ctx, a); err != nil {
			return err
		}
	}
	var maxSeq uint64
	for _, q := range snap.Outbound {
		if err := s.put(ctx, CollOutbound, q.ID, q, queueIndex(q)); err != nil {
			return err
		}
		if q.Seq > maxSeq {
			maxSeq = q.Seq
		}
	}
	for cur := s.seq.Load(); cur < maxSeq; cur = s.seq.Load() {
		if s.seq.CompareAndSwap(cur, maxSeq) {
			break
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Import",
		"contacts": len(snap.Contacts),
		"messages": len(snap.Messages),
	}).Info("Imported local data")

	return nil
}

// WriteJSON encodes the snapshot as indented JSON.
func (snap *Snapshot) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// ReadSnapshot decodes a snapshot written by WriteJSON.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}
