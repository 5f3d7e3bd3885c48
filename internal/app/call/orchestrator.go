package call

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/echo-project/echo-signal/internal/core"
	"github.com/echo-project/echo-signal/internal/domain"
	"github.com/echo-project/echo-signal/internal/wire"
)

const DefaultRingTimeout = 30 * time.Second

// Peers is the slice of the connection registry the orchestrator needs:
// targeted delivery, scope broadcast and identity lookup. Delivery is
// fire-and-forget; a false return means the peer is gone or drowning.
type Peers interface {
	Send(sid core.SessionID, frame core.Frame) bool
	Broadcast(room domain.RoomName, frame core.Frame, except core.SessionID) int
	Lookup(sid core.SessionID) (*domain.User, bool)
}

// Orchestrator is the call state machine. It exclusively owns every
// Session; all mutation happens under one lock, and no send ever blocks
// inside it.
type Orchestrator struct {
	mu       sync.Mutex
	sessions map[domain.CallID]*Session
	// byConn marks commitment: a connection that is ringing (either side)
	// or participating may not be pulled into a second session.
	byConn map[core.SessionID]domain.CallID

	peers       Peers
	log         *Log
	ringTimeout time.Duration

	now func() time.Time
}

func NewOrchestrator(peers Peers, callLog *Log, ringTimeout time.Duration) *Orchestrator {
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	return &Orchestrator{
		sessions:    make(map[domain.CallID]*Session),
		byConn:      make(map[core.SessionID]domain.CallID),
		peers:       peers,
		log:         callLog,
		ringTimeout: ringTimeout,
		now:         time.Now,
	}
}

func (o *Orchestrator) Log() *Log { return o.log }

// send marshals and delivers one frame, outside any lock.
func (o *Orchestrator) send(sid core.SessionID, v any) {
	frame, err := wire.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.call").Msg("encode frame")
		return
	}
	o.peers.Send(sid, frame)
}

type delivery struct {
	sid   core.SessionID
	event any
}

// busyOther reports whether sid is committed to a session other than id.
// Callers hold o.mu.
func (o *Orchestrator) busyOther(sid core.SessionID, id domain.CallID) bool {
	current, ok := o.byConn[sid]
	return ok && current != id
}

// Invite creates a CallSession. For a 1:1 target it rings the callee and
// arms the caller-side timeout; for a room/global scope it broadcasts the
// invite with no single timeout.
func (o *Orchestrator) Invite(from core.SessionID, callID domain.CallID, kind domain.CallKind, to core.SessionID, room domain.RoomName) {
	if callID == "" || !kind.Valid() {
		return
	}
	callerName := ""
	if u, ok := o.peers.Lookup(from); ok {
		callerName = u.Username
	}

	o.mu.Lock()
	if _, exists := o.sessions[callID]; exists {
		o.mu.Unlock()
		return
	}
	now := o.now()

	if to != "" {
		// A committed caller or callee means busy, never a silent
		// displacement of the existing session.
		if o.busyOther(to, callID) || o.busyOther(from, callID) {
			o.log.Record(Entry{
				CallID: callID, Kind: kind, Initiator: from, Target: to,
				Outcome: domain.CallOutcomeBusy, StartedAt: now, EndedAt: &now,
			})
			o.mu.Unlock()
			o.send(from, wire.CallRef{Type: wire.TypeCallBusy, CallID: callID, From: to})
			return
		}
		sess := &Session{
			ID: callID, Kind: kind, Initiator: from, Target: to,
			State: StateRinging, CreatedAt: now,
		}
		sess.ringTimer = time.AfterFunc(o.ringTimeout, func() { o.onRingTimeout(callID) })
		o.sessions[callID] = sess
		o.byConn[from] = callID
		o.byConn[to] = callID
		o.log.Record(Entry{CallID: callID, Kind: kind, Initiator: from, Target: to, StartedAt: now})
		o.mu.Unlock()

		log.Info().Str("module", "app.call").Str("call", string(callID)).
			Str("from", string(from)).Str("to", string(to)).Str("kind", string(kind)).Msg("ringing")
		o.send(to, wire.CallInvite{Type: wire.TypeCallInvite, CallID: callID, Kind: kind, From: from, Name: callerName})
		return
	}

	// A committed initiator may not open a mesh session either; that would
	// silently displace its byConn commitment.
	if o.busyOther(from, callID) {
		o.log.Record(Entry{
			CallID: callID, Kind: kind, Mesh: true, Room: room, Initiator: from,
			Outcome: domain.CallOutcomeBusy, StartedAt: now, EndedAt: &now,
		})
		o.mu.Unlock()
		o.send(from, wire.CallRef{Type: wire.TypeCallBusy, CallID: callID})
		return
	}
	sess := &Session{
		ID: callID, Kind: kind, Initiator: from, Room: room, Mesh: true,
		State: StateInviting, CreatedAt: now,
	}
	o.sessions[callID] = sess
	o.byConn[from] = callID
	o.log.Record(Entry{CallID: callID, Kind: kind, Mesh: true, Room: room, Initiator: from, StartedAt: now})
	o.mu.Unlock()

	log.Info().Str("module", "app.call").Str("call", string(callID)).
		Str("from", string(from)).Str("room", string(room)).Msg("mesh invite")
	frame, err := wire.Marshal(wire.CallInvite{Type: wire.TypeCallInvite, CallID: callID, Kind: kind, From: from, Name: callerName, Room: room})
	if err != nil {
		return
	}
	o.peers.Broadcast(room, frame, from)
}

// Join adds a connection to the session's participant set. The first join
// activates the session; for 1:1 the callee's join is the acceptance.
// Every join rebroadcasts the roster so each participant can open pairwise
// links; the lexicographically smaller session id initiates each pair,
// which kills offer glare without extra coordination.
func (o *Orchestrator) Join(callID domain.CallID, sid core.SessionID) {
	o.mu.Lock()
	sess, ok := o.sessions[callID]
	if !ok || sess.State == StateEnded {
		o.mu.Unlock()
		return
	}
	if o.busyOther(sid, callID) {
		o.mu.Unlock()
		o.send(sid, wire.CallRef{Type: wire.TypeCallBusy, CallID: callID})
		return
	}

	first := len(sess.Participants) == 0
	if !sess.Mesh {
		// 1:1 acceptance: the pair becomes the participant set.
		if sid != sess.Target && sid != sess.Initiator {
			o.mu.Unlock()
			return
		}
		if sess.State == StateRinging {
			// Only the callee's join answers a ring. The caller joining
			// its own unanswered call must not activate the session or
			// the ring timer could never mark it missed.
			if sid != sess.Target {
				o.mu.Unlock()
				return
			}
			sess.stopRingTimer()
			sess.addParticipant(sess.Initiator)
			sess.addParticipant(sess.Target)
		} else if !sess.addParticipant(sid) {
			o.mu.Unlock()
			return
		}
	} else if !sess.addParticipant(sid) {
		o.mu.Unlock()
		return
	}
	o.byConn[sid] = callID
	if first {
		sess.State = StateActive
		sess.StartedAt = o.now()
		sess.Outcome = domain.CallOutcomeAnswered
	}
	roster := sess.participantsCopy()
	o.mu.Unlock()

	log.Info().Str("module", "app.call").Str("call", string(callID)).
		Str("sid", string(sid)).Int("participants", len(roster)).Msg("joined call")
	update := wire.CallRoster{Type: wire.TypeCallJoin, CallID: callID, Joined: sid, Participants: roster}
	for _, p := range roster {
		o.send(p, update)
	}
}

// Leave removes a participant. When the last one leaves the session is
// finalized and dropped from the active set.
func (o *Orchestrator) Leave(callID domain.CallID, sid core.SessionID) {
	o.mu.Lock()
	sess, ok := o.sessions[callID]
	if !ok {
		o.mu.Unlock()
		return
	}
	if sess.State == StateRinging && !sess.isParticipant(sid) {
		// Hanging up an unanswered ring is an end, not a leave.
		o.endRingingLocked(sess, sid)
		return
	}
	if !sess.removeParticipant(sid) {
		// Committed but not a participant: release the commitment so the
		// connection is not stuck pointing at a session it never joined.
		if o.byConn[sid] == sess.ID {
			delete(o.byConn, sid)
		}
		o.mu.Unlock()
		return
	}
	delete(o.byConn, sid)
	var deliveries []delivery
	if len(sess.Participants) == 0 {
		o.finalizeLocked(sess, sess.Outcome)
	} else {
		update := wire.CallRoster{Type: wire.TypeCallLeave, CallID: callID, Left: sid, Participants: sess.participantsCopy()}
		for _, p := range sess.Participants {
			deliveries = append(deliveries, delivery{p, update})
		}
	}
	o.mu.Unlock()

	log.Info().Str("module", "app.call").Str("call", string(callID)).Str("sid", string(sid)).Msg("left call")
	for _, d := range deliveries {
		o.send(d.sid, d.event)
	}
}

// End handles webrtc:end from a connection: decline or cancel while
// ringing, a plain leave once active.
func (o *Orchestrator) End(callID domain.CallID, sid core.SessionID) {
	o.mu.Lock()
	sess, ok := o.sessions[callID]
	if !ok {
		o.mu.Unlock()
		return
	}
	if sess.State == StateRinging {
		o.endRingingLocked(sess, sid)
		return
	}
	o.mu.Unlock()
	o.Leave(callID, sid)
}

// endRingingLocked finalizes an unanswered 1:1 ring. Callee ending means
// declined, caller ending means canceled. Unlocks o.mu.
func (o *Orchestrator) endRingingLocked(sess *Session, sid core.SessionID) {
	var outcome domain.CallOutcome
	var notify core.SessionID
	switch sid {
	case sess.Target:
		outcome = domain.CallOutcomeDeclined
		notify = sess.Initiator
	case sess.Initiator:
		outcome = domain.CallOutcomeCanceled
		notify = sess.Target
	default:
		o.mu.Unlock()
		return
	}
	callID := sess.ID
	o.finalizeLocked(sess, outcome)
	o.mu.Unlock()

	log.Info().Str("module", "app.call").Str("call", string(callID)).
		Str("outcome", string(outcome)).Msg("ring ended")
	o.send(notify, wire.Signal{Type: wire.TypeEnd, CallID: callID, From: sid, Reason: string(outcome)})
}

// EndAll tears the whole session down on request. Any connection knowing
// the callId may do this; restricting it to participants is a product
// decision deliberately not taken here.
func (o *Orchestrator) EndAll(callID domain.CallID, from core.SessionID) {
	o.mu.Lock()
	sess, ok := o.sessions[callID]
	if !ok {
		o.mu.Unlock()
		return
	}
	targets := sess.participantsCopy()
	outcome := sess.Outcome
	if sess.State == StateRinging {
		targets = []core.SessionID{sess.Initiator, sess.Target}
		// An unanswered ring torn down wholesale logs the same outcome
		// the equivalent hangup would: the callee declining, anyone
		// else canceling.
		if from == sess.Target {
			outcome = domain.CallOutcomeDeclined
		} else {
			outcome = domain.CallOutcomeCanceled
		}
	}
	o.finalizeLocked(sess, outcome)
	o.mu.Unlock()

	log.Info().Str("module", "app.call").Str("call", string(callID)).Str("by", string(from)).Msg("call ended for all")
	for _, p := range targets {
		if p == from {
			continue
		}
		o.send(p, wire.Signal{Type: wire.TypeEnd, CallID: callID, From: from, Reason: "ended"})
	}
}

// finalizeLocked transitions a session to Ended, stamps the log, cancels
// timers and releases every committed connection. Callers hold o.mu.
func (o *Orchestrator) finalizeLocked(sess *Session, outcome domain.CallOutcome) {
	if sess.State == StateEnded {
		return
	}
	sess.stopRingTimer()
	sess.State = StateEnded
	sess.EndedAt = o.now()
	if outcome == "" {
		outcome = domain.CallOutcomeEnded
	}
	sess.Outcome = outcome
	o.log.Finalize(sess.ID, outcome, sess.EndedAt)

	release := func(sid core.SessionID) {
		if sid != "" && o.byConn[sid] == sess.ID {
			delete(o.byConn, sid)
		}
	}
	release(sess.Initiator)
	release(sess.Target)
	for _, p := range sess.Participants {
		release(p)
	}
	delete(o.sessions, sess.ID)
}

// onRingTimeout fires when a 1:1 ring goes unanswered. Firing after the
// session transitioned is a no-op, never an error.
func (o *Orchestrator) onRingTimeout(callID domain.CallID) {
	o.mu.Lock()
	sess, ok := o.sessions[callID]
	if !ok || sess.State != StateRinging {
		o.mu.Unlock()
		return
	}
	initiator, target := sess.Initiator, sess.Target
	o.finalizeLocked(sess, domain.CallOutcomeMissed)
	o.mu.Unlock()

	log.Info().Str("module", "app.call").Str("call", string(callID)).Msg("ring timeout, call missed")
	missed := wire.Signal{Type: wire.TypeEnd, CallID: callID, Reason: string(domain.CallOutcomeMissed)}
	o.send(initiator, missed)
	o.send(target, missed)
}

// Disconnect is the teardown cascade for a vanished connection: decline
// if it was being rung, leave every session it participated in, cancel if
// it was ringing someone. Runs to completion before the connection id is
// considered released.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	o.mu.Lock()
	callID, ok := o.byConn[sid]
	if !ok {
		o.mu.Unlock()
		return
	}
	sess, ok := o.sessions[callID]
	if !ok {
		delete(o.byConn, sid)
		o.mu.Unlock()
		return
	}
	if sess.State == StateRinging {
		o.endRingingLocked(sess, sid)
		return
	}
	if sess.Mesh && sess.State == StateInviting && sid == sess.Initiator {
		// Invite never materialized; nobody to notify.
		o.finalizeLocked(sess, domain.CallOutcomeCanceled)
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	o.Leave(callID, sid)
}

// SessionState reports a session's current state for tests and admin
// queries. The ok result is false once the session left the active set.
func (o *Orchestrator) SessionState(callID domain.CallID) (State, []core.SessionID, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[callID]
	if !ok {
		return StateEnded, nil, false
	}
	return sess.State, sess.participantsCopy(), true
}
