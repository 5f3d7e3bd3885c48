package presence

import (
	"context"
	"testing"
)

func TestMemorySets(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Add(ctx, SetOnline, "bob")
	m.Add(ctx, SetOnline, "alice")
	m.Add(ctx, SetOnline, "alice")
	m.Add(ctx, RoomSet("red"), "alice")

	got, err := m.Members(ctx, SetOnline)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("online = %v; want sorted [alice bob]", got)
	}

	if err := m.Remove(ctx, SetOnline, "alice"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	got, _ = m.Members(ctx, SetOnline)
	if len(got) != 1 || got[0] != "bob" {
		t.Fatalf("online = %v; want [bob]", got)
	}

	// Sets are independent; removing a missing member is not an error.
	if got, _ := m.Members(ctx, RoomSet("red")); len(got) != 1 {
		t.Fatalf("room set = %v", got)
	}
	if err := m.Remove(ctx, SetOnline, "ghost"); err != nil {
		t.Fatalf("Remove missing member: %v", err)
	}
}
