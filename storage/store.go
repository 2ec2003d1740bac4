package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chamber/crypto"
	"github.com/opd-ai/chamber/identity"
	"github.com/opd-ai/chamber/storage/kv"
)

// Collection names.
const (
	CollIdentity    = "identity"
	CollContacts    = "contacts"
	CollMessages    = "messages"
	CollAttachments = "attachments"
	CollOutbound    = "outbound"
)

// Index names.
const (
	IndexAddedAt       = "addedAt"
	IndexLastMessageAt = "lastMessageAt"
	IndexActivity      = "activity"
	IndexContact       = "contact"
	IndexTarget        = "target"
)

const identityKey = "user"

var (
	// ErrNoIdentity indicates that no identity has been created yet
	ErrNoIdentity = errors.New("no identity")
	// ErrContactNotFound indicates the contact does not exist
	ErrContactNotFound = errors.New("contact not found")
	// ErrMessageNotFound indicates the message does not exist
	ErrMessageNotFound = errors.New("message not found")
	// ErrAttachmentNotFound indicates the attachment does not exist
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrQueueEntryNotFound indicates the queued payload does not exist
	ErrQueueEntryNotFound = errors.New("queue entry not found")
)

// Collections lists every collection the Store writes, in export order.
var Collections = []string{CollIdentity, CollContacts, CollMessages, CollAttachments, CollOutbound}

// Store is the typed persistence layer over a kv.DB.
type Store struct {
	db           kv.DB
	timeProvider crypto.TimeProvider
	seq          atomic.Uint64

	// contactMu serializes UpdateContact
	contactMu sync.Mutex
}

// New creates a Store over db.
func New(db kv.DB) *Store {
	return &Store{db: db, timeProvider: crypto.DefaultTimeProvider{}}
}

// SetTimeProvider replaces the clock used for queue timestamps.
func (s *Store) SetTimeProvider(tp crypto.TimeProvider) {
	if tp == nil {
		tp = crypto.DefaultTimeProvider{}
	}
	s.timeProvider = tp
}

// DB returns the underlying database.
func (s *Store) DB() kv.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewID returns a fresh opaque record identifier.
func NewID() string {
	return uuid.NewString()
}

// sortable renders t as a fixed-width string that sorts chronologically.
func sortable(t time.Time) string {
	if t.IsZero() {
		return fmt.Sprintf("%020d", 0)
	}
	return fmt.Sprintf("%020d", t.UnixNano())
}

func (s *Store) put(ctx context.Context, coll, key string, v interface{}, idx ...kv.Index) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", coll, err)
	}
	if err := s.db.Put(ctx, coll, key, data, idx...); err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", coll, identity.Short(key), err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, coll, key string, v interface{}, notFound error) error {
	data, err := s.db.Get(ctx, coll, key)
	if errors.Is(err, kv.ErrNotFound) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("failed to load %s/%s: %w", coll, identity.Short(key), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("corrupt %s record %s: %w", coll, identity.Short(key), err)
	}
	return nil
}

func (s *Store) del(ctx context.Context, coll, key string, notFound error) error {
	err := s.db.Delete(ctx, coll, key)
	if errors.Is(err, kv.ErrNotFound) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", coll, identity.Short(key), err)
	}
	return nil
}

func decodeAll[T any](recs []kv.Record) ([]*T, error) {
	out := make([]*T, 0, len(recs))
	for _, r := range recs {
		v := new(T)
		if err := json.Unmarshal(r.Value, v); err != nil {
			return nil, fmt.Errorf("corrupt record %s: %w", identity.Short(r.Key), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// GetIdentity returns the stored identity or ErrNoIdentity.
func (s *Store) GetIdentity(ctx context.Context) (*Identity, error) {
	var id Identity
	if err := s.get(ctx, CollIdentity, identityKey, &id, ErrNoIdentity); err != nil {
		return nil, err
	}
	return &id, nil
}

// SaveIdentity stores the identity record, replacing any existing one.
func (s *Store) SaveIdentity(ctx context.Context, id *Identity) error {
	if err := identity.ValidatePublicID(id.PublicID); err != nil {
		return err
	}
	return s.put(ctx, CollIdentity, identityKey, id)
}

func contactIndexes(c *Contact) []kv.Index {
	return []kv.Index{
		{Name: IndexAddedAt, Value: sortable(c.AddedAt)},
		{Name: IndexLastMessageAt, Value: sortable(c.LastMessageAt)},
		{Name: IndexActivity, Value: sortable(c.LastActivity())},
	}
}

// PutContact inserts or replaces a contact.
func (s *Store) PutContact(ctx context.Context, c *Contact) error {
	return s.put(ctx, CollContacts, c.PublicID, c, contactIndexes(c)...)
}

// GetContact returns the contact with the given ID or ErrContactNotFound.
func (s *Store) GetContact(ctx context.Context, publicID string) (*Contact, error) {
	var c Contact
	if err := s.get(ctx, CollContacts, publicID, &c, ErrContactNotFound); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateContact loads a contact, applies fn and stores the result.
// Concurrent updates of contacts are serialized.
func (s *Store) UpdateContact(ctx context.Context, publicID string, fn func(*Contact) error) (*Contact, error) {
	s.contactMu.Lock()
	defer s.contactMu.Unlock()

	c, err := s.GetContact(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	if err := s.PutContact(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListContacts returns every contact, most recent activity first.
func (s *Store) ListContacts(ctx context.Context) ([]*Contact, error) {
	recs, err := s.db.GetAllByIndex(ctx, CollContacts, IndexActivity, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	contacts, err := decodeAll[Contact](recs)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(contacts)-1; i < j; i, j = i+1, j-1 {
		contacts[i], contacts[j] = contacts[j], contacts[i]
	}
	return contacts, nil
}

// DeleteContact removes a contact record. Messages are not touched; see
// DeleteConversation.
func (s *Store) DeleteContact(ctx context.Context, publicID string) error {
	return s.del(ctx, CollContacts, publicID, ErrContactNotFound)
}

func messageIndex(m *Message) kv.Index {
	return kv.Index{Name: IndexContact, Value: m.ContactID + "/" + sortable(m.Timestamp)}
}

// AddMessage appends a message to its contact's transcript. A missing ID is
// filled in.
func (s *Store) AddMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	return s.put(ctx, CollMessages, m.ID, m, messageIndex(m))
}

// GetMessage returns one message by ID.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	if err := s.get(ctx, CollMessages, id, &m, ErrMessageNotFound); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns the transcript for a contact, oldest first.
func (s *Store) ListMessages(ctx context.Context, contactID string) ([]*Message, error) {
	recs, err := s.db.GetAllByIndex(ctx, CollMessages, IndexContact, contactID+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return decodeAll[Message](recs)
}

// DeleteConversation removes every message of a contact along with the
// attachments they reference. It returns the number of messages removed.
func (s *Store) DeleteConversation(ctx context.Context, contactID string) (int, error) {
	msgs, err := s.ListMessages(ctx, contactID)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		if m.AttachmentRef != "" {
			if err := s.DeleteAttachment(ctx, m.AttachmentRef); err != nil && !errors.Is(err, ErrAttachmentNotFound) {
				return 0, err
			}
		}
		if err := s.del(ctx, CollMessages, m.ID, ErrMessageNotFound); err != nil {
			return 0, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "DeleteConversation",
		"contact":  identity.Short(contactID),
		"removed":  len(msgs),
	}).Debug("Conversation deleted")

	return len(msgs), nil
}

// PutAttachment stores an encrypted attachment. A missing ID is filled in.
func (s *Store) PutAttachment(ctx context.Context, a *Attachment) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	return s.put(ctx, CollAttachments, a.ID, a)
}

// GetAttachment returns an attachment by reference.
func (s *Store) GetAttachment(ctx context.Context, ref string) (*Attachment, error) {
	var a Attachment
	if err := s.get(ctx, CollAttachments, ref, &a, ErrAttachmentNotFound); err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteAttachment removes an attachment.
func (s *Store) DeleteAttachment(ctx context.Context, ref string) error {
	return s.del(ctx, CollAttachments, ref, ErrAttachmentNotFound)
}

// StorageStats counts the records held by the store.
type StorageStats struct {
	Contacts    int
	Messages    int
	Attachments int
	Queued      int
}

// Stats returns record counts per collection.
func (s *Store) Stats(ctx context.Context) (StorageStats, error) {
	var st StorageStats
	counts := []struct {
		coll string
		dst  *int
	}{
		{CollContacts, &st.Contacts},
		{CollMessages, &st.Messages},
		{CollAttachments, &st.Attachments},
		{CollOutbound, &st.Queued},
	}
	for _, c := range counts {
		recs, err := s.db.GetAll(ctx, c.coll)
		if err != nil {
			return st, fmt.Errorf("failed to count %s: %w", c.coll, err)
		}
		*c.dst = len(recs)
	}
	return st, nil
}

// Clear wipes every collection.
func (s *Store) Clear(ctx context.Context) error {
	for _, coll := range Collections {
		if err := s.db.Clear(ctx, coll); err != nil {
			return fmt.Errorf("failed to clear %s: %w", coll, err)
		}
	}
	logrus.WithFields(logrus.Fields{
		"function": "Clear",
	}).Info("All local data wiped")
	return nil
}

func sortQueue(entries []*QueuedOutbound) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].EnqueuedAt.Equal(entries[j].EnqueuedAt) {
			return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
		}
		return entries[i].Seq < entries[j].Seq
	})
}
