package signal

import "github.com/echo-project/echo-signal/internal/wire"

func (ctl *Controller) handlePing(conn *wsConn) {
	ctl.sendJSON(conn, wire.Envelope{Type: wire.TypePong})
}
