// Package store is the persistence boundary: chat history and contacts.
// The relay treats it as a durability optimization, never a correctness
// requirement, so every implementation must be safe to fail and the
// in-memory fallback must be a drop-in.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

type Message struct {
	Name string    `json:"name"`
	Text string    `json:"text"`
	Room string    `json:"room,omitempty"`
	TS   time.Time `json:"ts"`
}

type Contact struct {
	OwnerID   string `json:"ownerId"`
	Name      string `json:"name,omitempty"`
	ContactID string `json:"contactId,omitempty"`
}

type Store interface {
	AppendMessage(ctx context.Context, m Message) error
	// QueryMessages returns up to limit messages for a room (empty room
	// means the global partition), oldest first.
	QueryMessages(ctx context.Context, room string, limit int) ([]Message, error)

	UpsertContact(ctx context.Context, c Contact) error
	ListContacts(ctx context.Context, ownerID string) ([]Contact, error)
	// DeleteContact removes the owner's contact matching by name or by
	// contact id. Deleting a missing contact returns ErrNotFound.
	DeleteContact(ctx context.Context, ownerID, nameOrID string) error

	Close() error
}
