package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/echo-project/echo-signal/internal/core"
	"github.com/echo-project/echo-signal/internal/wire"
)

const maxMessageLen = 4096

// handleMessage fans a chat payload out to the target room (or everyone
// when no room is given) and echoes the stamped message back to the
// sender as the delivery receipt.
func (ctl *Controller) handleMessage(sid core.SessionID, conn *wsConn, data []byte) {
	var p wire.Message
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad message payload")
		ctl.sendJSON(conn, wire.NewError("bad_payload"))
		return
	}
	if p.Text == "" || len(p.Text) > maxMessageLen {
		ctl.sendJSON(conn, wire.NewError("bad_text"))
		return
	}

	rcpt, ok := ctl.Relay.Publish(sid, p.Text, p.Room)
	if !ok {
		ctl.sendJSON(conn, wire.NewError("not_joined"))
		return
	}
	ctl.sendJSON(conn, wire.Message{
		Type: wire.TypeMessage,
		ID:   rcpt.ID,
		Name: rcpt.Name,
		Room: p.Room,
		Text: p.Text,
		TS:   rcpt.TS.UnixMilli(),
	})
}
