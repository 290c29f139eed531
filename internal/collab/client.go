package collab

import (
	"time"

	"codecollab/internal/models"
)

// Transport is the outbound side of one client connection. Sends are
// best-effort: a closed or saturated transport silently drops frames so
// a slow client never stalls delivery to the rest of the session.
type Transport interface {
	// Send queues an encoded frame for delivery. It must never block.
	Send(frame []byte)

	// Close terminates the connection with a websocket close code and
	// reason. Safe to call more than once.
	Close(code int, reason string)
}

// Client is the server-side state for one connected client.
type Client struct {
	ID       string
	User     models.UserInfo
	JoinedAt time.Time

	// SessionID binds the connection to the session it has joined.
	// Empty until a create-session or join-session message succeeds.
	SessionID string

	transport Transport
}

// NewClient wraps a transport in client state under a fresh identity.
func NewClient(id string, transport Transport) *Client {
	return &Client{
		ID:        id,
		JoinedAt:  time.Now(),
		transport: transport,
	}
}

// Send encodes a typed payload and queues it on the client's transport.
// Encoding failures are ignored; all payloads are library-owned structs.
func (c *Client) Send(msgType string, payload any) {
	frame, err := models.Encode(msgType, payload)
	if err != nil {
		return
	}
	c.transport.Send(frame)
}

// Info is the public view of the client shared with session members.
func (c *Client) Info() models.ClientInfo {
	return models.ClientInfo{
		ClientID: c.ID,
		User:     c.User,
		JoinedAt: c.JoinedAt,
	}
}
