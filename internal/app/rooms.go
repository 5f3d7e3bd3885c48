package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/echo-project/echo-signal/internal/core"
	"github.com/echo-project/echo-signal/internal/domain"
	"github.com/echo-project/echo-signal/internal/presence"
)

var ErrRoomNameTooLong = errors.New("room name too long")

// RoomTracker enforces the at-most-one-room invariant on top of the
// registry's session table and mirrors per-room presence into the shared
// store. Every join/leave emits a roster-changed notification to the
// affected rooms; that notification is the only way other components learn
// about membership changes.
type RoomTracker struct {
	reg      *Registry
	presence presence.SetStore

	// OnRosterChanged delivers the new roster of an affected room to its
	// current members. Set once by the signal adapter before traffic
	// starts. Best effort: a failed delivery is not retried.
	OnRosterChanged func(room domain.RoomName, roster []core.MemberDTO)
}

func NewRoomTracker(reg *Registry, store presence.SetStore) *RoomTracker {
	return &RoomTracker{reg: reg, presence: store}
}

// Join moves a connection into room, leaving any previous room first. An
// empty room name means "leave to global". Returns the roster of the room
// joined, in stable join order.
func (t *RoomTracker) Join(sid core.SessionID, room domain.RoomName) ([]core.MemberDTO, error) {
	if len(room) > domain.MaxRoomNameLen {
		return nil, ErrRoomNameTooLong
	}
	prev, ok := t.reg.setRoom(sid, room)
	if !ok {
		return nil, nil
	}
	user, _ := t.reg.Lookup(sid)
	t.markRoom(sid, user, prev, false)
	t.markRoom(sid, user, room, true)

	log.Info().Str("module", "app.rooms").Str("sid", string(sid)).
		Str("from", string(prev)).Str("to", string(room)).Msg("room change")

	if prev != room && prev != domain.RoomGlobal {
		t.notify(prev)
	}
	roster := t.reg.Roster(room)
	if room != domain.RoomGlobal {
		t.notifyWith(room, roster)
	}
	return roster, nil
}

// Leave drops the connection back to the global partition and reports the
// room it was in, if any.
func (t *RoomTracker) Leave(sid core.SessionID) (domain.RoomName, bool) {
	prev, ok := t.reg.setRoom(sid, domain.RoomGlobal)
	if !ok || prev == domain.RoomGlobal {
		return domain.RoomGlobal, false
	}
	user, _ := t.reg.Lookup(sid)
	t.markRoom(sid, user, prev, false)
	log.Info().Str("module", "app.rooms").Str("sid", string(sid)).Str("room", string(prev)).Msg("left room")
	t.notify(prev)
	return prev, true
}

// RosterOf produces the ordered roster of a room on demand.
func (t *RoomTracker) RosterOf(room domain.RoomName) []core.MemberDTO {
	return t.reg.Roster(room)
}

func (t *RoomTracker) notify(room domain.RoomName) {
	t.notifyWith(room, t.reg.Roster(room))
}

func (t *RoomTracker) notifyWith(room domain.RoomName, roster []core.MemberDTO) {
	if t.OnRosterChanged != nil {
		t.OnRosterChanged(room, roster)
	}
}

func (t *RoomTracker) markRoom(sid core.SessionID, user *domain.User, room domain.RoomName, in bool) {
	if t.presence == nil || room == domain.RoomGlobal {
		return
	}
	set := presence.RoomSet(string(room))
	member := presenceKey(sid, user)
	var err error
	if in {
		err = t.presence.Add(context.Background(), set, member)
	} else {
		err = t.presence.Remove(context.Background(), set, member)
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "app.rooms").Str("room", string(room)).Msg("presence store update failed")
	}
}
