// Package signal is the connection multiplexer adapter: one WebSocket per
// client session, a read pump dispatching tagged events into the app
// registries and a write pump draining a bounded send channel.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/echo-project/echo-signal/internal/app"
	"github.com/echo-project/echo-signal/internal/app/call"
	"github.com/echo-project/echo-signal/internal/config"
	"github.com/echo-project/echo-signal/internal/core"
	"github.com/echo-project/echo-signal/internal/domain"
	"github.com/echo-project/echo-signal/internal/wire"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Registry *app.Registry
	Tracker  *app.RoomTracker
	Relay    *app.Relay
	Orch     *call.Orchestrator
	Cfg      *config.Config
}

func NewController(cfg *config.Config, reg *app.Registry, tracker *app.RoomTracker, relay *app.Relay, orch *call.Orchestrator) *Controller {
	ctl := &Controller{Registry: reg, Tracker: tracker, Relay: relay, Orch: orch, Cfg: cfg}
	tracker.OnRosterChanged = ctl.broadcastRoster
	return ctl
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until it dies.
// Every connection gets a fresh session id; the identity starts as a
// guest until the client sends its join event.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.Cfg != nil && ctl.Cfg.ReadLimit > 0 {
		ws.SetReadLimit(ctl.Cfg.ReadLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	user := &domain.User{Username: "guest"}
	sess := core.NewMemberSession(user, conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.Register(sid, sess, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}

// teardown is the single disconnect path: call cascade first, then room
// roster, then the registry mapping, then the global offline broadcast.
// It must run to completion before the sid is considered released.
func (ctl *Controller) teardown(sid core.SessionID) {
	ctl.Orch.Disconnect(sid)
	ctl.Tracker.Leave(sid)
	user, ok := ctl.Registry.Unregister(sid)
	if !ok {
		return
	}
	ctl.broadcast(domain.RoomGlobal, wire.UserEvent{Type: wire.TypeUserLeave, User: *user}, sid)
}

func (ctl *Controller) sendJSON(conn *wsConn, v any) {
	frame, err := wire.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = conn.TrySend(frame)
}

func (ctl *Controller) broadcast(room domain.RoomName, v any, except core.SessionID) {
	frame, err := wire.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	ctl.Registry.Broadcast(room, frame, except)
}

// broadcastRoster delivers the roster-changed notification the room
// tracker emits on every join/leave.
func (ctl *Controller) broadcastRoster(room domain.RoomName, roster []core.MemberDTO) {
	ctl.broadcast(room, wire.Users{Type: wire.TypeUsersInRoom, Room: room, Members: roster}, "")
}
