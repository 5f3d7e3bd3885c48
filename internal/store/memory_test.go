package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMemoryMessagesOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := s.AppendMessage(ctx, Message{
			Name: "alice", Text: fmt.Sprintf("m%d", i), Room: "red", TS: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	s.AppendMessage(ctx, Message{Name: "bob", Text: "elsewhere", Room: "blue", TS: base})

	got, err := s.QueryMessages(ctx, "red", 3)
	if err != nil {
		t.Fatalf("QueryMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages; want 3", len(got))
	}
	// Newest window of the room, returned oldest first.
	for i, want := range []string{"m2", "m3", "m4"} {
		if got[i].Text != want {
			t.Fatalf("messages = %v; want window [m2 m3 m4]", got)
		}
	}
}

func TestMemoryMessageCap(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	for i := 0; i < memoryMessageCap+10; i++ {
		s.AppendMessage(ctx, Message{Text: fmt.Sprintf("m%d", i)})
	}
	got, _ := s.QueryMessages(ctx, "", memoryMessageCap+10)
	if len(got) > memoryMessageCap {
		t.Fatalf("history holds %d messages; cap is %d", len(got), memoryMessageCap)
	}
	if got[0].Text != "m10" {
		t.Fatalf("oldest surviving message = %q; want m10", got[0].Text)
	}
}

func TestMemoryContacts(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	s.UpsertContact(ctx, Contact{OwnerID: "alice", Name: "bob", ContactID: "u-bob"})
	s.UpsertContact(ctx, Contact{OwnerID: "alice", Name: "carol"})
	s.UpsertContact(ctx, Contact{OwnerID: "dave", Name: "bob"})

	got, err := s.ListContacts(ctx, "alice")
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(got) != 2 || got[0].Name != "bob" || got[1].Name != "carol" {
		t.Fatalf("contacts = %v", got)
	}

	if err := s.DeleteContact(ctx, "alice", "u-bob"); err != nil {
		t.Fatalf("DeleteContact by id: %v", err)
	}
	if err := s.DeleteContact(ctx, "alice", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v; want ErrNotFound", err)
	}
	got, _ = s.ListContacts(ctx, "alice")
	if len(got) != 1 || got[0].Name != "carol" {
		t.Fatalf("contacts after delete = %v", got)
	}
	// Other owners are untouched.
	if got, _ := s.ListContacts(ctx, "dave"); len(got) != 1 {
		t.Fatalf("dave's contacts = %v", got)
	}
}
