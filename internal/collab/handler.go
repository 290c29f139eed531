package collab

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"codecollab/internal/recovery"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the editor host list is pinned down
		return true
	},
}

// maxFrameSize bounds a single inbound frame. Operation content tops out
// at 10 KiB; the margin covers envelope overhead and full-document seeds
// on create-session.
const maxFrameSize = 4 * 1024 * 1024

// WSHandler upgrades HTTP requests to websocket connections and runs the
// per-connection read loop.
type WSHandler struct {
	server *Server
	log    zerolog.Logger
}

// NewWSHandler builds the websocket entry point for the given server.
func NewWSHandler(server *Server, logger zerolog.Logger) *WSHandler {
	return &WSHandler{
		server: server,
		log:    logger.With().Str("component", "ws").Logger(),
	}
}

// HandleConnection upgrades the request, assigns a fresh client id and
// pumps inbound frames into the server until the connection drops.
func (h *WSHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	transport := newWSTransport(conn, h.log)
	client := NewClient(h.server.NewClientID(), transport)

	h.server.ConnectionOpened()
	h.log.Info().Str("client", client.ID).Msg("connection established")

	go transport.writePump()
	h.readPump(r, conn, client, transport)
}

func (h *WSHandler) readPump(r *http.Request, conn *websocket.Conn, client *Client, transport *wsTransport) {
	defer func() {
		h.server.Disconnect(client)
		transport.Close(websocket.CloseNormalClosure, "")
		h.server.ConnectionClosed()
		h.log.Info().Str("client", client.ID).Msg("connection closed")
	}()

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.server.recovery.Record(recovery.CategoryTransport, err)
				h.log.Warn().Err(err).Str("client", client.ID).Msg("read error")
			}
			return
		}
		h.server.HandleMessage(r.Context(), client, raw)
	}
}
