package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler admits clients and runs their WebSocket pumps.
type Handler struct {
	Orch *app.Orchestrator
	Opts Options
	// Ctx ends every connection when the server shuts down.
	Ctx context.Context
}

func NewHandler(ctx context.Context, orch *app.Orchestrator, opts Options) *Handler {
	return &Handler{Orch: orch, Opts: opts.withDefaults(), Ctx: ctx}
}

// Serve runs admission before the upgrade so rejected clients get a plain
// HTTP status and no socket.
func (h *Handler) Serve(c *gin.Context) {
	req := app.AdmissionRequest{
		Path:      c.Request.URL.Path,
		Token:     c.Query("token"),
		Name:      c.Query("name"),
		PublicKey: c.Query("pubKey"),
		ClientIP:  c.ClientIP(),
	}
	room, err := h.Orch.Admit(h.Orch.Settings.Current(), req)
	if err != nil {
		log.Info().Str("module", "signal").Str("ip", req.ClientIP).Str("name", req.Name).Err(err).Msg("admission rejected")
		c.AbortWithStatusJSON(app.StatusOf(err), gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWSConn(ws, h.Opts)
	sess := core.NewSession(room.ID, req.Name, req.PublicKey, conn)
	log.Info().Str("module", "signal").Str("sid", string(sess.ID)).Str("room", string(room.ID)).Str("user", sess.Username).Msg("new WS connection")

	go conn.writePump(h.Ctx, sess.ID)
	// A refused session is closed by Connect.
	if !h.Orch.Connect(sess) {
		return
	}
	go h.readPump(sess, conn)
}

func (h *Handler) readPump(sess *core.Session, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sess.ID)).Msg("readPump closing")
		h.Orch.Disconnect(sess)
		c.Close(core.CloseNormal, "")
	}()

	c.conn.SetReadLimit(h.Opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.Opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.Opts.PongWait))
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("module", "signal").Str("sid", string(sess.ID)).Msg("readPump read error")
			}
			return
		}
		if mt != websocket.TextMessage {
			log.Debug().Str("module", "signal").Str("sid", string(sess.ID)).Int("message_type", mt).Msg("ignoring non-text frame")
			continue
		}
		// Any frame counts as liveness, not only pongs.
		_ = c.conn.SetReadDeadline(time.Now().Add(h.Opts.PongWait))
		h.Orch.OnFrame(sess, core.Frame(data))
	}
}
