package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/echo-project/echo-signal/internal/core"
	"github.com/echo-project/echo-signal/internal/wire"
)

// handleWebRTCSignal normalizes an offer/answer/ice payload at the
// boundary and hands it to the orchestrator for routing. The SDP and
// candidate bodies are never inspected here.
func (ctl *Controller) handleWebRTCSignal(sid core.SessionID, conn *wsConn, data []byte) {
	var p wire.Signal
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad webrtc payload")
		ctl.sendJSON(conn, wire.NewError("bad_payload"))
		return
	}
	if p.CallID == "" {
		ctl.sendJSON(conn, wire.NewError("missing callId"))
		return
	}
	switch p.Type {
	case wire.TypeOffer, wire.TypeAnswer:
		if p.SDP == nil || p.SDP.SDP == "" {
			ctl.sendJSON(conn, wire.NewError("missing sdp"))
			return
		}
	case wire.TypeICE:
		// An empty candidate string is end-of-candidates and is relayed.
		if p.Candidate == nil {
			ctl.sendJSON(conn, wire.NewError("missing candidate"))
			return
		}
	}
	ctl.Orch.RelaySignal(sid, p)
}

func (ctl *Controller) handleWebRTCEnd(sid core.SessionID, conn *wsConn, data []byte) {
	var p wire.Signal
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		ctl.sendJSON(conn, wire.NewError("bad_payload"))
		return
	}
	ctl.Orch.End(p.CallID, sid)
}
