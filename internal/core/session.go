package core

import "github.com/echo-project/echo-signal/internal/domain"

// SessionID identifies one live connection on the signaling channel.
// Assigned at connect time, dead after disconnect.
type SessionID string

// MemberSession binds a user identity and its transport endpoint.
// This is what the registries store and fan out to.
type MemberSession interface {
	User() *domain.User
	Signal() SignalConnection
}

type memberSession struct {
	user *domain.User
	conn SignalConnection
}

func NewMemberSession(user *domain.User, conn SignalConnection) MemberSession {
	return &memberSession{user: user, conn: conn}
}

func (m *memberSession) User() *domain.User       { return m.user }
func (m *memberSession) Signal() SignalConnection { return m.conn }

// MemberDTO is a read-only roster entry for APIs (no transport fields).
type MemberDTO struct {
	SID      SessionID     `json:"sid"`
	ID       domain.UserID `json:"id,omitempty"`
	Username string        `json:"username"`
}
