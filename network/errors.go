package network

import (
	"errors"
	"fmt"

	"github.com/opd-ai/chamber/identity"
)

var (
	// ErrConnectionTimeout is returned when a connection does not open and
	// finish replay within the connect timeout. The attempt keeps running.
	ErrConnectionTimeout = errors.New("connection timeout")
	// ErrNotInitialized is returned before Init or after Shutdown
	ErrNotInitialized = errors.New("network not initialized")
	// ErrAlreadyInitialized is returned by a second Init
	ErrAlreadyInitialized = errors.New("network already initialized")
	// ErrSelfConnect is returned when dialing the local public ID
	ErrSelfConnect = errors.New("cannot connect to self")
	// ErrNoQueue is returned when a failed send cannot be queued
	ErrNoQueue = errors.New("no outbound queue configured")
)

// ConnectionError reports that the channel to a peer failed before or
// while opening.
type ConnectionError struct {
	Peer string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", identity.Short(e.Peer), e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
