package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/echo-project/echo-signal/internal/core"
	"github.com/echo-project/echo-signal/internal/domain"
	"github.com/echo-project/echo-signal/internal/wire"
)

func (ctl *Controller) handleCallInvite(sid core.SessionID, conn *wsConn, data []byte) {
	var p wire.CallInvite
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad call:invite payload")
		ctl.sendJSON(conn, wire.NewError("bad_payload"))
		return
	}
	if p.CallID == "" || !p.Kind.Valid() {
		ctl.sendJSON(conn, wire.NewError("bad_payload"))
		return
	}
	room := p.Room
	if p.To == "" && room == domain.RoomGlobal {
		// Default the mesh scope to the inviter's current room.
		if current, ok := ctl.Registry.RoomOf(sid); ok {
			room = current
		}
	}
	ctl.Orch.Invite(sid, p.CallID, p.Kind, p.To, room)
}

func (ctl *Controller) handleCallJoin(sid core.SessionID, conn *wsConn, data []byte) {
	p, ok := ctl.decodeCallRef(conn, data)
	if !ok {
		return
	}
	ctl.Orch.Join(p.CallID, sid)
}

func (ctl *Controller) handleCallLeave(sid core.SessionID, conn *wsConn, data []byte) {
	p, ok := ctl.decodeCallRef(conn, data)
	if !ok {
		return
	}
	ctl.Orch.Leave(p.CallID, sid)
}

// handleCallEndAll tears down the whole call. Deliberately no participant
// check: any connection that knows the callId may end it.
func (ctl *Controller) handleCallEndAll(sid core.SessionID, conn *wsConn, data []byte) {
	p, ok := ctl.decodeCallRef(conn, data)
	if !ok {
		return
	}
	ctl.Orch.EndAll(p.CallID, sid)
}

func (ctl *Controller) handleCallUpgrade(sid core.SessionID, conn *wsConn, data []byte) {
	var p wire.CallUpgrade
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		ctl.sendJSON(conn, wire.NewError("bad_payload"))
		return
	}
	if p.Kind == "" {
		p.Kind = domain.CallKindVideo
	}
	ctl.Orch.Upgrade(p.CallID, sid, p.Kind)
}

func (ctl *Controller) handleCallUpgradeResponse(sid core.SessionID, conn *wsConn, data []byte) {
	var p wire.CallUpgrade
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		ctl.sendJSON(conn, wire.NewError("bad_payload"))
		return
	}
	ctl.Orch.UpgradeResponse(p.CallID, sid, p.Accept)
}

func (ctl *Controller) decodeCallRef(conn *wsConn, data []byte) (wire.CallRef, bool) {
	var p wire.CallRef
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		ctl.sendJSON(conn, wire.NewError("bad_payload"))
		return wire.CallRef{}, false
	}
	return p, true
}
