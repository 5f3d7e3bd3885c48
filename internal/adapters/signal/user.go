package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/echo-project/echo-signal/internal/core"
	"github.com/echo-project/echo-signal/internal/domain"
	"github.com/echo-project/echo-signal/internal/wire"
)

// handleJoin identifies the connection: display name plus the optional
// stable user id. Re-joining just replaces the identity.
func (ctl *Controller) handleJoin(sid core.SessionID, conn *wsConn, data []byte) {
	var p wire.Join
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendJSON(conn, wire.NewError("bad_payload"))
		return
	}
	user, err := domain.NewUser(p.UserID, p.Name)
	if err != nil {
		ctl.sendJSON(conn, wire.NewError(err.Error()))
		return
	}

	// nil cancel keeps the connection's original context cancel in place.
	ctl.Registry.Register(sid, core.NewMemberSession(user, conn), nil)
	log.Info().Str("module", "signal").Str("sid", string(sid)).
		Str("name", user.Username).Str("user", string(user.ID)).Msg("identified")

	ctl.sendJSON(conn, wire.Users{Type: wire.TypeUsers, Members: ctl.Registry.Roster(domain.RoomGlobal)})
	ctl.broadcast(domain.RoomGlobal, wire.UserEvent{Type: wire.TypeUserJoin, User: *user}, sid)
}

// handleUsers answers with the global online roster.
func (ctl *Controller) handleUsers(sid core.SessionID, conn *wsConn) {
	ctl.sendJSON(conn, wire.Users{Type: wire.TypeUsers, Members: ctl.Registry.Roster(domain.RoomGlobal)})
}
