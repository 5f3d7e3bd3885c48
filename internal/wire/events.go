// Package wire defines the signaling channel event contract. Every frame
// is a JSON object whose "type" field selects one of the payload shapes
// below; unknown fields are ignored, unknown types are logged and dropped.
package wire

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/echo-project/echo-signal/internal/core"
	"github.com/echo-project/echo-signal/internal/domain"
)

// Event type names. These are the contract with clients; renaming one is
// a breaking protocol change.
const (
	TypeJoin        = "join"
	TypeJoinRoom    = "joinRoom"
	TypeLeaveRoom   = "leaveRoom"
	TypeMessage     = "message"
	TypeUserJoin    = "user:join"
	TypeUserLeave   = "user:leave"
	TypeUsers       = "users"
	TypeUsersInRoom = "usersInRoom"

	TypeOffer  = "webrtc:offer"
	TypeAnswer = "webrtc:answer"
	TypeICE    = "webrtc:ice"
	TypeEnd    = "webrtc:end"

	TypeCallInvite          = "call:invite"
	TypeCallJoin            = "call:join"
	TypeCallLeave           = "call:leave"
	TypeCallEndAll          = "call:endAll"
	TypeCallBusy            = "call:busy"
	TypeCallUpgrade         = "call:upgrade"
	TypeCallUpgradeResponse = "call:upgrade:response"

	TypePing  = "ping"
	TypePong  = "pong"
	TypeError = "error"
)

// Envelope carries only the discriminator; handlers re-decode the full
// payload once they know the shape.
type Envelope struct {
	Type string `json:"type"`
}

type Join struct {
	Type   string        `json:"type"`
	Name   string        `json:"name"`
	UserID domain.UserID `json:"userId,omitempty"`
}

type JoinRoom struct {
	Type string          `json:"type"`
	Room domain.RoomName `json:"room"`
}

type Message struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name,omitempty"`
	Room domain.RoomName `json:"room,omitempty"`
	Text string          `json:"text"`
	TS   int64           `json:"ts,omitempty"`
}

// UserEvent announces one identity going online/offline.
type UserEvent struct {
	Type string      `json:"type"`
	User domain.User `json:"user"`
}

type Users struct {
	Type    string           `json:"type"`
	Room    domain.RoomName  `json:"room,omitempty"`
	Members []core.MemberDTO `json:"members"`
}

// Signal is the webrtc:offer/answer/ice/end family. SDP and Candidate are
// normalized at the boundary, then relayed verbatim; the server never
// inspects them beyond routing by To/CallID.
type Signal struct {
	Type      string                     `json:"type"`
	CallID    domain.CallID              `json:"callId"`
	From      core.SessionID             `json:"from,omitempty"`
	To        core.SessionID             `json:"to,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Reason    string                     `json:"reason,omitempty"`
}

type CallInvite struct {
	Type   string          `json:"type"`
	CallID domain.CallID   `json:"callId"`
	Kind   domain.CallKind `json:"kind"`
	From   core.SessionID  `json:"from,omitempty"`
	Name   string          `json:"name,omitempty"`
	To     core.SessionID  `json:"to,omitempty"`
	Room   domain.RoomName `json:"room,omitempty"`
}

// CallRoster is broadcast on every mesh join/leave so each participant can
// establish pairwise links with everyone already present.
type CallRoster struct {
	Type         string           `json:"type"`
	CallID       domain.CallID    `json:"callId"`
	Joined       core.SessionID   `json:"joined,omitempty"`
	Left         core.SessionID   `json:"left,omitempty"`
	Participants []core.SessionID `json:"participants"`
}

type CallRef struct {
	Type   string         `json:"type"`
	CallID domain.CallID  `json:"callId"`
	From   core.SessionID `json:"from,omitempty"`
}

type CallUpgrade struct {
	Type   string          `json:"type"`
	CallID domain.CallID   `json:"callId"`
	From   core.SessionID  `json:"from,omitempty"`
	Kind   domain.CallKind `json:"kind,omitempty"`
	Accept bool            `json:"accept,omitempty"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewError(msg string) Error { return Error{Type: TypeError, Error: msg} }

// Marshal encodes an event for the send channel. Events are plain structs;
// an encode failure is a programming error, reported as a nil frame the
// senders skip.
func Marshal(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}
