// Package presence is the shared view of who is online, globally and per
// room. Backends are pluggable so multiple server instances can share one
// store; the registry and room tracker write to it, HTTP collaborators
// read from it.
package presence

import "context"

// Set names used by the server. Room sets are derived with RoomSet.
const SetOnline = "online"

func RoomSet(room string) string { return "room." + room }

// SetStore is a named-set membership store. Implementations must treat
// Add/Remove as idempotent.
type SetStore interface {
	Add(ctx context.Context, set, member string) error
	Remove(ctx context.Context, set, member string) error
	Members(ctx context.Context, set string) ([]string, error)
}
