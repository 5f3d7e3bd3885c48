package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/echo-project/echo-signal/internal/core"
	"github.com/echo-project/echo-signal/internal/domain"
	"github.com/echo-project/echo-signal/internal/store"
	"github.com/echo-project/echo-signal/internal/wire"
)

const appendTimeout = 5 * time.Second

// Relay is the stateless chat fan-out. Delivery to peers comes first;
// the store append is fired afterwards and its failure is swallowed.
type Relay struct {
	reg   *Registry
	store store.Store
}

func NewRelay(reg *Registry, st store.Store) *Relay {
	return &Relay{reg: reg, store: st}
}

// Receipt reports what the relay actually did with a publish.
type Receipt struct {
	ID        string
	Name      string
	TS        time.Time
	Delivered int
}

// Publish stamps the message with the server time and the sender's
// resolved display name, delivers it to the target room (or to everyone
// when the room is global), then persists best-effort.
func (r *Relay) Publish(sender core.SessionID, text string, room domain.RoomName) (Receipt, bool) {
	user, ok := r.reg.Lookup(sender)
	if !ok {
		return Receipt{}, false
	}
	rcpt := Receipt{
		ID:   uuid.NewString(),
		Name: user.Username,
		TS:   time.Now(),
	}
	frame, err := wire.Marshal(wire.Message{
		Type: wire.TypeMessage,
		ID:   rcpt.ID,
		Name: rcpt.Name,
		Room: room,
		Text: text,
		TS:   rcpt.TS.UnixMilli(),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("encode message")
		return Receipt{}, false
	}
	rcpt.Delivered = r.reg.Broadcast(room, frame, sender)

	go r.persist(store.Message{Name: rcpt.Name, Text: text, Room: string(room), TS: rcpt.TS})
	return rcpt, true
}

func (r *Relay) persist(m store.Message) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	if err := r.store.AppendMessage(ctx, m); err != nil {
		// Persistence is a durability optimization; peers already have
		// the message.
		log.Warn().Err(err).Str("module", "app.relay").Msg("message append failed")
	}
}
