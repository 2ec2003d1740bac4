package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chamber/identity"
	"github.com/opd-ai/chamber/storage/kv"
)

func queueIndex(q *QueuedOutbound) kv.Index {
	return kv.Index{
		Name:  IndexTarget,
		Value: fmt.Sprintf("%s/%s/%020d", q.TargetPeerID, sortable(q.EnqueuedAt), q.Seq),
	}
}

// Enqueue appends an encoded payload to the outbound queue for target.
func (s *Store) Enqueue(ctx context.Context, target string, payload []byte) (*QueuedOutbound, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("refusing to queue empty payload for %s", identity.Short(target))
	}
	q := &QueuedOutbound{
		ID:           NewID(),
		TargetPeerID: target,
		Payload:      append([]byte(nil), payload...),
		EnqueuedAt:   s.timeProvider.Now(),
		Seq:          s.seq.Add(1),
	}
	if err := s.put(ctx, CollOutbound, q.ID, q, queueIndex(q)); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Enqueue",
		"target":   identity.Short(target),
		"queue_id": q.ID,
		"size":     len(payload),
	}).Debug("Payload queued for offline peer")

	return q, nil
}

// Pending returns the queued payloads for target in delivery order.
func (s *Store) Pending(ctx context.Context, target string) ([]*QueuedOutbound, error) {
	recs, err := s.db.GetAllByIndex(ctx, CollOutbound, IndexTarget, target+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list queue for %s: %w", identity.Short(target), err)
	}
	return decodeAll[QueuedOutbound](recs)
}

// AllPending returns every queued payload, oldest first.
func (s *Store) AllPending(ctx context.Context) ([]*QueuedOutbound, error) {
	recs, err := s.db.GetAll(ctx, CollOutbound)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	entries, err := decodeAll[QueuedOutbound](recs)
	if err != nil {
		return nil, err
	}
	sortQueue(entries)
	return entries, nil
}

// Dequeue removes a delivered entry.
func (s *Store) Dequeue(ctx context.Context, id string) error {
	return s.del(ctx, CollOutbound, id, ErrQueueEntryNotFound)
}

// DropQueue removes every queued payload for target and returns how many
// were dropped.
func (s *Store) DropQueue(ctx context.Context, target string) (int, error) {
	entries, err := s.Pending(ctx, target)
	if err != nil {
		return 0, err
	}
	for _, q := range entries {
		if err := s.Dequeue(ctx, q.ID); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}
