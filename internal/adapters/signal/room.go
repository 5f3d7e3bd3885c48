package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/echo-project/echo-signal/internal/app"
	"github.com/echo-project/echo-signal/internal/core"
	"github.com/echo-project/echo-signal/internal/wire"
)

func (ctl *Controller) handleJoinRoom(sid core.SessionID, conn *wsConn, data []byte) {
	var p wire.JoinRoom
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad joinRoom payload")
		ctl.sendJSON(conn, wire.NewError("bad_payload"))
		return
	}

	roster, err := ctl.Tracker.Join(sid, p.Room)
	if errors.Is(err, app.ErrRoomNameTooLong) {
		ctl.sendJSON(conn, wire.NewError("room name too long"))
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(p.Room)).Msg("joinRoom")
	ctl.sendJSON(conn, wire.Users{Type: wire.TypeUsersInRoom, Room: p.Room, Members: roster})
}

func (ctl *Controller) handleLeaveRoom(sid core.SessionID, conn *wsConn) {
	room, ok := ctl.Tracker.Leave(sid)
	if !ok {
		// Not in a room: normal, not an error.
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(room)).Msg("leaveRoom")
}

// handleUsersInRoom answers an on-demand roster query without touching
// membership.
func (ctl *Controller) handleUsersInRoom(sid core.SessionID, conn *wsConn, data []byte) {
	var p wire.JoinRoom
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendJSON(conn, wire.NewError("bad_payload"))
		return
	}
	ctl.sendJSON(conn, wire.Users{Type: wire.TypeUsersInRoom, Room: p.Room, Members: ctl.Tracker.RosterOf(p.Room)})
}
