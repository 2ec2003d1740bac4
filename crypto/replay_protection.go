package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ReplayFilter remembers which (peer, IV) pairs have already been accepted
// so that a frame delivered twice is stored once. Every payload carries a
// fresh random IV, so a repeated pair can only be a redelivery.
//
// Entries expire after the window. When a path is given the set is saved
// on Close and loaded again by the next filter on the same path.
//
//	f, err := crypto.NewReplayFilter(filepath.Join(dir, "seen.dat"), 24*time.Hour, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer f.Close()
//
//	if !f.CheckAndRemember(peerID, iv) {
//	    return ErrDuplicate
//	}
//	if err := store(msg); err != nil {
//	    f.Forget(peerID, iv)
//	    return err
//	}
//
// The filter is safe for concurrent use and runs a background goroutine
// that drops expired entries.
type ReplayFilter struct {
	mu           sync.Mutex
	seen         map[[32]byte]int64 // digest -> expiry (unix seconds)
	window       time.Duration
	path         string
	stopChan     chan struct{}
	stopOnce     sync.Once
	timeProvider TimeProvider
}

const replayRecordSize = sha256.Size + 8

// NewReplayFilter creates a filter with the given expiry window. An empty
// path keeps the set in memory only. Pass nil for timeProvider to use the
// default time provider.
func NewReplayFilter(path string, window time.Duration, timeProvider TimeProvider) (*ReplayFilter, error) {
	if timeProvider == nil {
		timeProvider = DefaultTimeProvider{}
	}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create replay filter directory: %w", err)
		}
	}

	f := &ReplayFilter{
		seen:         make(map[[32]byte]int64),
		window:       window,
		path:         path,
		stopChan:     make(chan struct{}),
		timeProvider: timeProvider,
	}
	if err := f.load(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewReplayFilter",
			"path":     path,
		}).WithError(err).Warn("Could not load replay filter, starting fresh")
	}

	go f.cleanupLoop()
	return f, nil
}

func replayDigest(peerID string, iv []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(peerID))
	h.Write([]byte{0})
	h.Write(iv)
	var d [32]byte
	copy(d[:], h.Sum(nil))
	return d
}

// CheckAndRemember records the pair until the window elapses. It returns
// false, and records nothing, when the pair is already remembered and has
// not expired. Of several concurrent calls for one pair exactly one wins.
func (f *ReplayFilter) CheckAndRemember(peerID string, iv []byte) bool {
	d := replayDigest(peerID, iv)
	now := f.timeProvider.Now()

	f.mu.Lock()
	defer f.mu.Unlock()
	if expiry, ok := f.seen[d]; ok && expiry > now.Unix() {
		return false
	}
	f.seen[d] = now.Add(f.window).Unix()
	return true
}

// Forget drops the pair, so that a frame whose processing failed after
// CheckAndRemember is accepted when it arrives again.
func (f *ReplayFilter) Forget(peerID string, iv []byte) {
	d := replayDigest(peerID, iv)

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, d)
}

// Reset forgets every pair.
func (f *ReplayFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = make(map[[32]byte]int64)
}

// Size returns the number of remembered pairs, expired ones included
// until the next cleanup.
func (f *ReplayFilter) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func (f *ReplayFilter) load() error {
	if f.path == "" {
		return nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read replay filter: %w", err)
	}
	if len(data) < 8 {
		return fmt.Errorf("corrupted replay filter: file too small")
	}

	count := binary.BigEndian.Uint64(data[0:8])
	now := f.timeProvider.Now().Unix()
	loaded := 0
	for offset, i := 8, uint64(0); i < count && offset+replayRecordSize <= len(data); i, offset = i+1, offset+replayRecordSize {
		expiry := binary.BigEndian.Uint64(data[offset+sha256.Size : offset+replayRecordSize])
		if expiry > math.MaxInt64 || int64(expiry) <= now {
			continue
		}
		var d [32]byte
		copy(d[:], data[offset:offset+sha256.Size])
		f.seen[d] = int64(expiry)
		loaded++
	}

	logrus.WithFields(logrus.Fields{
		"function": "load",
		"in_file":  count,
		"loaded":   loaded,
	}).Debug("Replay filter loaded")
	return nil
}

func (f *ReplayFilter) save() error {
	f.mu.Lock()
	buf := make([]byte, 8, 8+len(f.seen)*replayRecordSize)
	n := uint64(0)
	for d, expiry := range f.seen {
		if expiry < 0 {
			continue
		}
		buf = append(buf, d[:]...)
		buf = binary.BigEndian.AppendUint64(buf, uint64(expiry))
		n++
	}
	f.mu.Unlock()
	binary.BigEndian.PutUint64(buf[0:8], n)

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return fmt.Errorf("failed to write replay filter: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to rename replay filter: %w", err)
	}
	return nil
}

func (f *ReplayFilter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.cleanup()
		case <-f.stopChan:
			return
		}
	}
}

func (f *ReplayFilter) cleanup() {
	now := f.timeProvider.Now().Unix()

	f.mu.Lock()
	defer f.mu.Unlock()
	removed := 0
	for d, expiry := range f.seen {
		if expiry <= now {
			delete(f.seen, d)
			removed++
		}
	}
	if removed > 0 {
		logrus.WithFields(logrus.Fields{
			"function":  "cleanup",
			"removed":   removed,
			"remaining": len(f.seen),
		}).Debug("Dropped expired replay entries")
	}
}

// Close stops the cleanup loop and saves the set when a path was given.
func (f *ReplayFilter) Close() error {
	f.stopOnce.Do(func() { close(f.stopChan) })
	if f.path == "" {
		return nil
	}
	f.cleanup()
	return f.save()
}
