package contact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chamber/crypto"
	"github.com/opd-ai/chamber/identity"
	"github.com/opd-ai/chamber/limits"
	"github.com/opd-ai/chamber/storage"
)

var (
	// ErrSelfContact is returned when adding the local identity as a contact
	ErrSelfContact = errors.New("cannot add yourself as a contact")
	// ErrContactExists is returned when the contact is already in the book
	ErrContactExists = errors.New("contact already exists")
)

// Book is the local contact list.
type Book struct {
	store        *storage.Store
	selfID       string
	timeProvider crypto.TimeProvider
}

// NewBook creates a contact book for selfID.
func NewBook(store *storage.Store, selfID string) *Book {
	return NewBookWithTimeProvider(store, selfID, crypto.DefaultTimeProvider{})
}

// NewBookWithTimeProvider creates a contact book with a custom clock.
func NewBookWithTimeProvider(store *storage.Store, selfID string, tp crypto.TimeProvider) *Book {
	if tp == nil {
		tp = crypto.DefaultTimeProvider{}
	}
	return &Book{store: store, selfID: selfID, timeProvider: tp}
}

// NormalizeID trims and lowercases a public ID typed or pasted by a user.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Add creates a contact. An empty name gets the default "User <prefix>".
func (b *Book) Add(ctx context.Context, publicID, name string) (*storage.Contact, error) {
	publicID = NormalizeID(publicID)
	if err := identity.ValidatePublicID(publicID); err != nil {
		return nil, err
	}
	if publicID == b.selfID {
		return nil, ErrSelfContact
	}

	name, err := displayName(publicID, name)
	if err != nil {
		return nil, err
	}

	if _, err := b.store.GetContact(ctx, publicID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrContactExists, identity.Short(publicID))
	} else if !errors.Is(err, storage.ErrContactNotFound) {
		return nil, err
	}

	c := &storage.Contact{
		PublicID:    publicID,
		DisplayName: name,
		AddedAt:     b.timeProvider.Now(),
	}
	if err := b.store.PutContact(ctx, c); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Add",
		"contact":  identity.Short(publicID),
	}).Info("Contact added")
	return c, nil
}

func displayName(publicID, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return identity.DefaultDisplayName(publicID), nil
	}
	if err := limits.ValidateDisplayName(name); err != nil {
		return "", err
	}
	return name, nil
}

// Get returns one contact.
func (b *Book) Get(ctx context.Context, publicID string) (*storage.Contact, error) {
	return b.store.GetContact(ctx, NormalizeID(publicID))
}

// List returns all contacts, most recent activity first.
func (b *Book) List(ctx context.Context) ([]*storage.Contact, error) {
	return b.store.ListContacts(ctx)
}

// Rename changes a contact's display name. An empty name restores the
// default.
func (b *Book) Rename(ctx context.Context, publicID, name string) (*storage.Contact, error) {
	publicID = NormalizeID(publicID)
	name, err := displayName(publicID, name)
	if err != nil {
		return nil, err
	}
	return b.store.UpdateContact(ctx, publicID, func(c *storage.Contact) error {
		c.DisplayName = name
		return nil
	})
}

// MarkRead resets the unread counter.
func (b *Book) MarkRead(ctx context.Context, publicID string) error {
	_, err := b.store.UpdateContact(ctx, NormalizeID(publicID), func(c *storage.Contact) error {
		c.UnreadCount = 0
		return nil
	})
	return err
}

// Remove deletes a contact together with its transcript, attachments and
// any messages still queued for it.
func (b *Book) Remove(ctx context.Context, publicID string) error {
	publicID = NormalizeID(publicID)
	if _, err := b.store.GetContact(ctx, publicID); err != nil {
		return err
	}

	messages, err := b.store.DeleteConversation(ctx, publicID)
	if err != nil {
		return err
	}
	dropped, err := b.store.DropQueue(ctx, publicID)
	if err != nil {
		return err
	}
	if err := b.store.DeleteContact(ctx, publicID); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Remove",
		"contact":  identity.Short(publicID),
		"messages": messages,
		"queued":   dropped,
	}).Info("Contact removed")
	return nil
}
