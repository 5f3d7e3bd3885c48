package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/echo-project/echo-signal/internal/core"
	"github.com/echo-project/echo-signal/internal/wire"
)

const writeDeadline = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	// Whatever kills the writer (cancelled context, write error, drained
	// channel) must also close the socket, or the read pump could sit in
	// ReadMessage until the peer's TCP stack gives up.
	defer c.Close()

	pingPeriod := 54 * time.Second
	if ctl.Cfg != nil && ctl.Cfg.PingPeriod > 0 {
		pingPeriod = ctl.Cfg.PingPeriod
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sid core.SessionID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.teardown(sid)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.dispatch(sid, c, data)
		}
	}
}

// dispatch decodes the envelope and routes to the per-event handler. A
// frame that does not parse as an envelope is answered with an error
// event; unknown types are logged and dropped.
func (ctl *Controller) dispatch(sid core.SessionID, c *wsConn, data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendJSON(c, wire.NewError("bad_payload"))
		return
	}

	switch env.Type {
	case wire.TypeJoin:
		ctl.handleJoin(sid, c, data)
	case wire.TypeJoinRoom:
		ctl.handleJoinRoom(sid, c, data)
	case wire.TypeLeaveRoom:
		ctl.handleLeaveRoom(sid, c)
	case wire.TypeMessage:
		ctl.handleMessage(sid, c, data)
	case wire.TypeUsers:
		ctl.handleUsers(sid, c)
	case wire.TypeUsersInRoom:
		ctl.handleUsersInRoom(sid, c, data)
	case wire.TypeOffer, wire.TypeAnswer, wire.TypeICE:
		ctl.handleWebRTCSignal(sid, c, data)
	case wire.TypeEnd:
		ctl.handleWebRTCEnd(sid, c, data)
	case wire.TypeCallInvite:
		ctl.handleCallInvite(sid, c, data)
	case wire.TypeCallJoin:
		ctl.handleCallJoin(sid, c, data)
	case wire.TypeCallLeave:
		ctl.handleCallLeave(sid, c, data)
	case wire.TypeCallEndAll:
		ctl.handleCallEndAll(sid, c, data)
	case wire.TypeCallUpgrade:
		ctl.handleCallUpgrade(sid, c, data)
	case wire.TypeCallUpgradeResponse:
		ctl.handleCallUpgradeResponse(sid, c, data)
	case wire.TypePing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}
