package collab

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
)

const (
	// writeWait bounds a single write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long the connection may go without a pong.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = 54 * time.Second

	// sendQueueSize buffers outbound frames per connection. A full
	// queue marks the client as slow and frames are dropped.
	sendQueueSize = 256
)

func newClientID() string {
	return ksuid.New().String()
}

// wsTransport adapts a gorilla websocket connection to the Transport
// interface. Outbound frames pass through a buffered channel drained by
// a dedicated write pump, so broadcast paths never touch the socket and
// never block on a slow peer.
type wsTransport struct {
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSTransport(conn *websocket.Conn, logger zerolog.Logger) *wsTransport {
	return &wsTransport{
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		log:    logger,
		closed: make(chan struct{}),
	}
}

// Send queues a frame, dropping it silently when the connection is
// closed or the queue is saturated.
func (t *wsTransport) Send(frame []byte) {
	select {
	case <-t.closed:
		return
	default:
	}
	select {
	case t.send <- frame:
	default:
		t.log.Debug().Msg("send queue full, frame dropped")
	}
}

// Close sends a clean close frame and tears the connection down. Safe to
// call multiple times and from any goroutine.
func (t *wsTransport) Close(code int, reason string) {
	t.closeOnce.Do(func() {
		close(t.closed)
		msg := websocket.FormatCloseMessage(code, reason)
		t.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = t.conn.WriteMessage(websocket.CloseMessage, msg)
		t.conn.Close()
	})
}

// writePump drains the send queue onto the socket and keeps the
// connection alive with periodic pings. One pump per connection.
func (t *wsTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.Close(websocket.CloseAbnormalClosure, "")
	}()

	for {
		select {
		case <-t.closed:
			return

		case frame := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
