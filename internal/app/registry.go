// Package app owns the in-memory registries: connection identity, room
// membership, message relay and the courtesy rate limiter. All mutation of
// shared connection state funnels through these types.
package app

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/echo-project/echo-signal/internal/core"
	"github.com/echo-project/echo-signal/internal/domain"
	"github.com/echo-project/echo-signal/internal/presence"
)

type sessionEntry struct {
	Room    domain.RoomName
	JoinSeq uint64
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry is the source of truth for who is online. It maps live
// connections to identities and mirrors global presence into the shared
// presence store, refcounted per external user id so a second tab of the
// same user does not flap the online flag.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	refs     map[domain.UserID]int
	joinSeq  uint64

	presence presence.SetStore
}

func NewRegistry(store presence.SetStore) *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		refs:     make(map[domain.UserID]int),
		presence: store,
	}
}

// presenceKey is the member written to the shared store: the stable user
// id when the client has one, the connection id otherwise.
func presenceKey(sid core.SessionID, u *domain.User) string {
	if u != nil && u.ID != "" {
		return string(u.ID)
	}
	return string(sid)
}

// Register binds a connection to an identity. Idempotent per connection:
// re-registering replaces the identity but keeps room membership.
func (r *Registry) Register(sid core.SessionID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	var prevUser *domain.User
	lastPrev := false
	entry, existed := r.sessions[sid]
	if existed {
		prevUser = entry.Session.User()
		lastPrev = r.decRef(sid, prevUser)
		entry.Session = sess
		if cancel != nil {
			entry.Cancel = cancel
		}
	} else {
		r.joinSeq++
		entry = &sessionEntry{Session: sess, Cancel: cancel, JoinSeq: r.joinSeq}
		r.sessions[sid] = entry
	}
	first := r.incRef(sid, sess.User())
	r.mu.Unlock()

	if lastPrev && presenceKey(sid, prevUser) != presenceKey(sid, sess.User()) {
		r.markOnline(sid, prevUser, false)
	}
	if first {
		r.markOnline(sid, sess.User(), true)
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).
		Str("user", string(sess.User().ID)).Str("name", sess.User().Username).
		Msg("registered connection")
}

// Lookup resolves a connection to its identity. Not found is a normal
// outcome callers handle explicitly.
func (r *Registry) Lookup(sid core.SessionID) (*domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session.User(), true
	}
	return nil, false
}

func (r *Registry) Session(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// Unregister removes the mapping on terminal disconnect and marks the
// identity offline when no other connection shares its external id.
// The caller runs the room/call cascades; this is the trigger, not the
// whole teardown.
func (r *Registry) Unregister(sid core.SessionID) (*domain.User, bool) {
	r.mu.Lock()
	entry, ok := r.sessions[sid]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	delete(r.sessions, sid)
	user := entry.Session.User()
	last := r.decRef(sid, user)
	r.mu.Unlock()

	if last {
		r.markOnline(sid, user, false)
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unregistered connection")
	return user, true
}

// incRef/decRef track connections per external id under r.mu. They report
// whether this was the first/last connection for the identity.
func (r *Registry) incRef(sid core.SessionID, u *domain.User) bool {
	key := domain.UserID(presenceKey(sid, u))
	r.refs[key]++
	return r.refs[key] == 1
}

func (r *Registry) decRef(sid core.SessionID, u *domain.User) bool {
	key := domain.UserID(presenceKey(sid, u))
	if n, ok := r.refs[key]; ok {
		if n <= 1 {
			delete(r.refs, key)
			return true
		}
		r.refs[key] = n - 1
	}
	return false
}

func (r *Registry) markOnline(sid core.SessionID, u *domain.User, online bool) {
	if r.presence == nil {
		return
	}
	var err error
	if online {
		err = r.presence.Add(context.Background(), presence.SetOnline, presenceKey(sid, u))
	} else {
		err = r.presence.Remove(context.Background(), presence.SetOnline, presenceKey(sid, u))
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Bool("online", online).Msg("presence store update failed")
	}
}

// RoomOf reports the room a connection currently claims, if any.
func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomName, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Room == domain.RoomGlobal {
		return domain.RoomGlobal, false
	}
	return e.Room, true
}

// setRoom moves a connection between rooms and bumps its join order so
// rosters list members by most recent join. Used by the room tracker only.
func (r *Registry) setRoom(sid core.SessionID, room domain.RoomName) (prev domain.RoomName, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, found := r.sessions[sid]
	if !found {
		return domain.RoomGlobal, false
	}
	prev = e.Room
	e.Room = room
	r.joinSeq++
	e.JoinSeq = r.joinSeq
	return prev, true
}

type memberSnap struct {
	SID     core.SessionID
	JoinSeq uint64
	Session core.MemberSession
}

// membersOf snapshots a room's sessions ordered by join. The global room
// means every connection.
func (r *Registry) membersOf(room domain.RoomName) []memberSnap {
	r.mu.RLock()
	out := make([]memberSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if room == domain.RoomGlobal || e.Room == room {
			out = append(out, memberSnap{SID: sid, JoinSeq: e.JoinSeq, Session: e.Session})
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].JoinSeq < out[j].JoinSeq })
	return out
}

// Roster returns the ordered identity view of a room (or of everyone, for
// the global room). Produced on demand, never cached.
func (r *Registry) Roster(room domain.RoomName) []core.MemberDTO {
	snaps := r.membersOf(room)
	out := make([]core.MemberDTO, 0, len(snaps))
	for _, s := range snaps {
		u := s.Session.User()
		out = append(out, core.MemberDTO{SID: s.SID, ID: u.ID, Username: u.Username})
	}
	return out
}

// Broadcast fans a frame out to every member of a room (everyone, for the
// global room). Best effort: backpressured connections just miss the
// frame. A closed connection is a zombie (its transport is gone but its
// pumps have not torn down yet), so its context is cancelled to force the
// disconnect cascade.
func (r *Registry) Broadcast(room domain.RoomName, frame core.Frame, except core.SessionID) (sent int) {
	for _, s := range r.membersOf(room) {
		if s.SID == except {
			continue
		}
		if err := s.Session.Signal().TrySend(frame); err != nil {
			log.Debug().Str("module", "app.registry").Str("sid", string(s.SID)).Err(err).Msg("broadcast drop")
			if errors.Is(err, core.ErrConnClosed) {
				r.Cancel(s.SID)
			}
			continue
		}
		sent++
	}
	return sent
}

// Send delivers one frame to one connection. Unknown targets are dropped
// silently; the sender cannot tell "gone" from "ignoring".
func (r *Registry) Send(sid core.SessionID, frame core.Frame) bool {
	sess, ok := r.Session(sid)
	if !ok {
		return false
	}
	return sess.Signal().TrySend(frame) == nil
}

// Cancel fires the connection's context cancel func, tearing down pumps.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	return true
}
