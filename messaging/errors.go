package messaging

import (
	"errors"
	"fmt"

	"github.com/opd-ai/chamber/identity"
)

var (
	// ErrSelfMessage is returned when sending to the local identity
	ErrSelfMessage = errors.New("cannot send a message to yourself")
	// ErrUnsupportedKind is returned for an attachment kind that is not binary
	ErrUnsupportedKind = errors.New("unsupported attachment kind")
	// ErrNotAttachment is returned when a message reference does not belong to the contact
	ErrNotAttachment = errors.New("attachment does not belong to this conversation")
	// ErrDuplicate is returned by Receive for a frame that was already stored
	ErrDuplicate = errors.New("duplicate frame")
)

// QueueReplayError reports that a replay pass stopped at a failed send.
// Entries from EntryID on stay queued for the next connection.
type QueueReplayError struct {
	Peer     string
	EntryID  string
	Replayed int
	Err      error
}

func (e *QueueReplayError) Error() string {
	return fmt.Sprintf("queue replay to %s stopped after %d entries at %s: %v",
		identity.Short(e.Peer), e.Replayed, e.EntryID, e.Err)
}

func (e *QueueReplayError) Unwrap() error { return e.Err }
