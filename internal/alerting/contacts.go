package alerting

import (
	"context"
	"errors"
	"fmt"

	"price-alerts/internal/storage"
)

// ErrNoRecipient means the owner has no endpoint for the channel.
var ErrNoRecipient = errors.New("no recipient configured")

// ContactLookup resolves an owner's delivery endpoints. storage.ContactStore satisfies it.
type ContactLookup interface {
	GetContact(ctx context.Context, ownerID string) (storage.Contact, error)
}

// StaticContacts is an in-memory ContactLookup.
type StaticContacts map[string]storage.Contact

// GetContact implements ContactLookup.
func (s StaticContacts) GetContact(_ context.Context, ownerID string) (storage.Contact, error) {
	c, ok := s[ownerID]
	if !ok {
		return storage.Contact{}, storage.ErrNotFound
	}
	return c, nil
}

// resolveEndpoint picks one field off the owner's contact. A missing contact or
// empty field maps to ErrNoRecipient.
func resolveEndpoint(ctx context.Context, contacts ContactLookup, ownerID string, pick func(storage.Contact) string) (string, error) {
	if contacts == nil {
		return "", ErrNoRecipient
	}
	c, err := contacts.GetContact(ctx, ownerID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNoRecipient
	}
	if err != nil {
		return "", fmt.Errorf("resolve contact: %w", err)
	}
	value := pick(c)
	if value == "" {
		return "", ErrNoRecipient
	}
	return value, nil
}

func recipientFailure(channel string, err error, missing string) Result {
	if errors.Is(err, ErrNoRecipient) {
		return failure(channel, CategoryRecipient, "%s", missing)
	}
	return failure(channel, CategoryUnexpected, "%v", err)
}
