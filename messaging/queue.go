package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chamber/identity"
	"github.com/opd-ai/chamber/storage"
)

// Enqueue stores an encoded frame for later delivery to peerID.
func (m *Manager) Enqueue(ctx context.Context, peerID string, frame []byte) error {
	entry, err := m.store.Enqueue(ctx, peerID, frame)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function": "Enqueue",
		"peer":     identity.Short(peerID),
		"entry_id": entry.ID,
		"seq":      entry.Seq,
	}).Info("Message queued for offline peer")
	return nil
}

// Pending returns the frames still queued for peerID, oldest first.
func (m *Manager) Pending(ctx context.Context, peerID string) ([]*storage.QueuedOutbound, error) {
	return m.store.Pending(ctx, peerID)
}

func (m *Manager) replayLock(peerID string) *sync.Mutex {
	m.replayMu.Lock()
	defer m.replayMu.Unlock()
	l, ok := m.replayLocks[peerID]
	if !ok {
		l = &sync.Mutex{}
		m.replayLocks[peerID] = l
	}
	return l
}

// ReplayQueue sends every queued frame for peerID in order. An entry is
// removed only after send accepted it, so a crash in between can deliver
// it twice. The first failed send stops the pass with a *QueueReplayError
// and leaves that entry and the rest queued. Passes for one peer never
// overlap; different peers replay concurrently.
func (m *Manager) ReplayQueue(ctx context.Context, peerID string, send func([]byte) error) error {
	l := m.replayLock(peerID)
	l.Lock()
	defer l.Unlock()

	logger := logrus.WithFields(logrus.Fields{
		"function": "ReplayQueue",
		"peer":     identity.Short(peerID),
	})

	entries, err := m.store.Pending(ctx, peerID)
	if err != nil {
		return fmt.Errorf("failed to load queue: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	logger.WithField("count", len(entries)).Info("Replaying queued messages")

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return &QueueReplayError{Peer: peerID, EntryID: e.ID, Replayed: i, Err: err}
		}
		if err := send(e.Payload); err != nil {
			logger.WithFields(logrus.Fields{
				"entry_id": e.ID,
				"replayed": i,
			}).WithError(err).Warn("Replay send failed, keeping remaining entries")
			return &QueueReplayError{Peer: peerID, EntryID: e.ID, Replayed: i, Err: err}
		}
		if err := m.store.Dequeue(ctx, e.ID); err != nil {
			return fmt.Errorf("entry %s delivered but not removed: %w", e.ID, err)
		}
	}

	logger.WithField("count", len(entries)).Info("Queue replay complete")
	return nil
}
