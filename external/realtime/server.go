package realtime

import (
	"log/slog"
	"net/http"

	"github.com/foxseedlab/voicememo/internal/config"
	"github.com/foxseedlab/voicememo/internal/protocol"
	"github.com/foxseedlab/voicememo/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests to the real-time channel and hands each
// connection to the session manager.
type Handler struct {
	manager  *session.Manager
	upgrader websocket.Upgrader
}

func NewHandler(cfg *config.Config, manager *session.Manager) *Handler {
	return &Handler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin: func(r *http.Request) bool {
				return cfg.OriginAllowed(r.Header.Get("Origin"))
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		slog.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	conn := &serverConn{wsConn: newWSConn(ws), id: uuid.NewString()}
	if err := h.manager.Serve(r.Context(), conn); err != nil {
		slog.Warn("connection rejected", "conn_id", conn.id, "error", err)
	}
}

type serverConn struct {
	*wsConn
	id string
}

func (c *serverConn) ID() string { return c.id }

func (c *serverConn) Receive() (session.Inbound, error) {
	msg, data, err := c.readMessage()
	if err != nil {
		return session.Inbound{}, err
	}
	return session.Inbound{Message: msg, Audio: data}, nil
}

func (c *serverConn) Send(msg protocol.Message) error { return c.send(msg) }

func (c *serverConn) Close() error { return c.close() }
