package chamber

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chamber/config"
	"github.com/opd-ai/chamber/contact"
	"github.com/opd-ai/chamber/crypto"
	"github.com/opd-ai/chamber/identity"
	"github.com/opd-ai/chamber/limits"
	"github.com/opd-ai/chamber/messaging"
	"github.com/opd-ai/chamber/network"
	"github.com/opd-ai/chamber/signaling"
	"github.com/opd-ai/chamber/storage"
	"github.com/opd-ai/chamber/storage/kv"
	"github.com/opd-ai/chamber/storage/kv/leveldbkv"
	"github.com/opd-ai/chamber/storage/kv/rediskv"
	"github.com/opd-ai/chamber/wire"
)

var (
	// ErrNoIdentity is returned by operations that need an identity before
	// Bootstrap or Recover
	ErrNoIdentity = storage.ErrNoIdentity
	// ErrIdentityExists is returned when recovering a different identity
	// over an existing one
	ErrIdentityExists = errors.New("a different identity already exists; wipe first")
	// ErrRunning is returned by operations that need networking stopped
	ErrRunning = errors.New("messenger is running")
	// ErrNotRunning is returned by operations that need Start first
	ErrNotRunning = errors.New("messenger is not running")
	// ErrKilled is returned after Kill
	ErrKilled = errors.New("messenger has been killed")
)

// replayWindow is how long a received frame is remembered for duplicate
// suppression.
const replayWindow = 7 * 24 * time.Hour

// IncomingMessage is an inbound message as handed to OnMessage.
type IncomingMessage struct {
	From   string
	Type   wire.Kind
	Text   string
	Name   string
	SentAt time.Time
	// Unreadable is set when text failed to decrypt
	Unreadable bool
}

// MessageCallback is called for every stored inbound message.
type MessageCallback func(msg IncomingMessage)

// PeerCallback is called when a peer connects or disconnects.
type PeerCallback func(peerID string)

// BootstrapResult describes the identity after Bootstrap. Codes is set only
// when a new identity was created; it is the only time they are available.
type BootstrapResult struct {
	Identity *storage.Identity
	Codes    []string
	Created  bool
}

// Messenger is the main API facade tying identity, storage, messaging and
// networking together.
type Messenger struct {
	options *Options
	store   *storage.Store
	tp      crypto.TimeProvider
	seen    *crypto.ReplayFilter

	mu       sync.RWMutex
	self     *storage.Identity
	contacts *contact.Book
	msgs     *messaging.Manager
	net      *network.Manager
	signal   *signaling.Client
	running  bool
	starting bool
	killed   bool

	cbMu                     sync.RWMutex
	messageCallback          MessageCallback
	peerConnectedCallback    PeerCallback
	peerDisconnectedCallback PeerCallback
}

// New opens the store selected by options and loads any existing identity.
func New(ctx context.Context, options *Options) (*Messenger, error) {
	if options == nil {
		options = NewOptions()
	}

	db, err := openDB(ctx, options)
	if err != nil {
		return nil, err
	}

	tp := options.TimeProvider
	if tp == nil {
		tp = crypto.DefaultTimeProvider{}
	}
	store := storage.New(db)
	store.SetTimeProvider(tp)

	seen, err := crypto.NewReplayFilter(replayFilterPath(options), replayWindow, tp)
	if err != nil {
		store.Close()
		return nil, err
	}

	m := &Messenger{options: options, store: store, tp: tp, seen: seen}
	if err := m.loadIdentity(ctx); err != nil && !errors.Is(err, storage.ErrNoIdentity) {
		seen.Close()
		store.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"backend":  options.StoreBackend,
		"identity": m.hasIdentity(),
	}).Info("Messenger created")
	return m, nil
}

// replayFilterPath keeps the filter next to a leveldb store so it survives
// restarts; other backends keep it in memory.
func replayFilterPath(options *Options) string {
	if options.DB != nil || options.DataDir == "" {
		return ""
	}
	if options.StoreBackend != config.BackendLevelDB && options.StoreBackend != "" {
		return ""
	}
	return filepath.Join(options.DataDir, "seen.dat")
}

func openDB(ctx context.Context, options *Options) (kv.DB, error) {
	if options.DB != nil {
		return options.DB, nil
	}
	switch options.StoreBackend {
	case config.BackendMemory:
		return kv.NewMemDB(), nil
	case config.BackendRedis:
		return rediskv.Dial(ctx, options.RedisURL, options.StoreNamespace)
	case config.BackendLevelDB, "":
		cfg := config.Config{DataDir: options.DataDir}
		return leveldbkv.Open(cfg.StorePath())
	}
	return nil, fmt.Errorf("%w: unknown store backend %q", config.ErrInvalidConfig, options.StoreBackend)
}

// loadIdentity reads the stored identity and builds the per-identity
// components.
func (m *Messenger) loadIdentity(ctx context.Context) error {
	id, err := m.store.GetIdentity(ctx)
	if err != nil {
		return err
	}
	msgs, err := messaging.NewManager(m.store, id.PublicID,
		messaging.WithTimeProvider(m.tp),
		messaging.WithReplayFilter(m.seen))
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.self = id
	m.msgs = msgs
	m.contacts = contact.NewBookWithTimeProvider(m.store, id.PublicID, m.tp)
	m.mu.Unlock()
	return nil
}

func (m *Messenger) hasIdentity() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.self != nil
}

func (m *Messenger) messages() (*messaging.Manager, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.killed {
		return nil, ErrKilled
	}
	if m.msgs == nil {
		return nil, ErrNoIdentity
	}
	return m.msgs, nil
}

// Bootstrap returns the stored identity, creating one on first run. The
// recovery codes of a new identity are returned once and never stored.
func (m *Messenger) Bootstrap(ctx context.Context) (*BootstrapResult, error) {
	if id, err := m.Identity(ctx); err == nil {
		return &BootstrapResult{Identity: id}, nil
	} else if !errors.Is(err, ErrNoIdentity) {
		return nil, err
	}

	publicID, codes, err := identity.CreateIdentity()
	if err != nil {
		return nil, err
	}
	id := &storage.Identity{
		PublicID:           publicID,
		RecoveryCodeHashes: identity.HashRecoveryCodes(codes),
		CreatedAt:          m.tp.Now(),
	}
	if err := m.store.SaveIdentity(ctx, id); err != nil {
		return nil, err
	}
	if err := m.loadIdentity(ctx); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Bootstrap",
		"public_id": identity.Short(publicID),
	}).Info("Created new identity")
	return &BootstrapResult{Identity: id, Codes: codes, Created: true}, nil
}

// Recover restores the identity derived from the 12 recovery codes.
// Recovering the identity that is already stored refreshes its code
// hashes; a different stored identity must be wiped first.
func (m *Messenger) Recover(ctx context.Context, codes []string) (*storage.Identity, error) {
	if m.busy() {
		return nil, ErrRunning
	}
	publicID, hashes, err := identity.Recover(codes)
	if err != nil {
		return nil, err
	}

	existing, err := m.store.GetIdentity(ctx)
	switch {
	case err == nil && existing.PublicID != publicID:
		return nil, ErrIdentityExists
	case err != nil && !errors.Is(err, storage.ErrNoIdentity):
		return nil, err
	}

	id := &storage.Identity{PublicID: publicID, RecoveryCodeHashes: hashes, CreatedAt: m.tp.Now()}
	if existing != nil {
		id.DisplayName = existing.DisplayName
		id.CreatedAt = existing.CreatedAt
	}
	if err := m.store.SaveIdentity(ctx, id); err != nil {
		return nil, err
	}
	if err := m.loadIdentity(ctx); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Recover",
		"public_id": identity.Short(publicID),
	}).Info("Identity recovered")
	return id, nil
}

// VerifyRecoveryCodes reports whether codes match the stored identity.
func (m *Messenger) VerifyRecoveryCodes(ctx context.Context, codes []string) (bool, error) {
	id, err := m.Identity(ctx)
	if err != nil {
		return false, err
	}
	return identity.VerifyRecoveryCodes(codes, id.RecoveryCodeHashes), nil
}

// Identity returns the local identity.
func (m *Messenger) Identity(ctx context.Context) (*storage.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.killed {
		return nil, ErrKilled
	}
	if m.self == nil {
		return nil, ErrNoIdentity
	}
	id := *m.self
	return &id, nil
}

// SelfID returns the local public ID, or "" before an identity exists.
func (m *Messenger) SelfID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.self == nil {
		return ""
	}
	return m.self.PublicID
}

// SetDisplayName changes the local display name. An empty name clears it.
func (m *Messenger) SetDisplayName(ctx context.Context, name string) error {
	if err := limits.ValidateDisplayName(name); err != nil {
		return err
	}
	id, err := m.Identity(ctx)
	if err != nil {
		return err
	}
	id.DisplayName = name
	if err := m.store.SaveIdentity(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	m.self = id
	m.mu.Unlock()
	return nil
}

// Contacts returns the contact book.
func (m *Messenger) Contacts() (*contact.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.killed {
		return nil, ErrKilled
	}
	if m.contacts == nil {
		return nil, ErrNoIdentity
	}
	return m.contacts, nil
}

// OnMessage sets the callback for inbound messages.
func (m *Messenger) OnMessage(callback MessageCallback) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.messageCallback = callback
}

// OnPeerConnected sets the callback for peers whose channel opened.
func (m *Messenger) OnPeerConnected(callback PeerCallback) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.peerConnectedCallback = callback
}

// OnPeerDisconnected sets the callback for peers whose channel closed.
func (m *Messenger) OnPeerDisconnected(callback PeerCallback) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.peerDisconnectedCallback = callback
}

// Kill stops networking and closes the store. The Messenger cannot be used
// afterwards.
func (m *Messenger) Kill() {
	m.mu.Lock()
	if m.killed {
		m.mu.Unlock()
		return
	}
	m.killed = true
	m.mu.Unlock()

	m.stopNetwork()
	if err := m.seen.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Kill",
		}).WithError(err).Warn("Failed to save replay filter")
	}
	if err := m.store.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Kill",
		}).WithError(err).Warn("Failed to close store")
	}
	logrus.WithField("function", "Kill").Info("Messenger stopped")
}
