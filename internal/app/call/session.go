// Package call owns the call-orchestration state machine: invitations,
// ringing, mesh rosters, timeouts and the bounded call history. Nothing
// outside this package mutates call state.
package call

import (
	"time"

	"github.com/echo-project/echo-signal/internal/core"
	"github.com/echo-project/echo-signal/internal/domain"
)

type State int

const (
	StateInviting State = iota
	StateRinging
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateInviting:
		return "inviting"
	case StateRinging:
		return "ringing"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// Session is one attempted or active call. Guarded by the orchestrator's
// lock; never handed out by pointer.
type Session struct {
	ID        domain.CallID
	Kind      domain.CallKind
	Initiator core.SessionID

	// Target is the callee of a 1:1 call; zero for mesh.
	Target core.SessionID
	// Room is the mesh invite scope; global when empty.
	Room domain.RoomName
	Mesh bool

	State        State
	Participants []core.SessionID
	Outcome      domain.CallOutcome

	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time

	// pendingKind holds a proposed audio→video upgrade until the peer
	// accepts it.
	pendingKind domain.CallKind

	ringTimer *time.Timer
}

func (s *Session) isParticipant(sid core.SessionID) bool {
	for _, p := range s.Participants {
		if p == sid {
			return true
		}
	}
	return false
}

func (s *Session) addParticipant(sid core.SessionID) bool {
	if s.isParticipant(sid) {
		return false
	}
	s.Participants = append(s.Participants, sid)
	return true
}

func (s *Session) removeParticipant(sid core.SessionID) bool {
	for i, p := range s.Participants {
		if p == sid {
			s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// participantsCopy snapshots the roster for use outside the lock.
func (s *Session) participantsCopy() []core.SessionID {
	out := make([]core.SessionID, len(s.Participants))
	copy(out, s.Participants)
	return out
}

func (s *Session) stopRingTimer() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}
