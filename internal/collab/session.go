package collab

import (
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"

	"codecollab/internal/models"
	"codecollab/internal/ot"
)

const (
	// maxChatHistory bounds a session's retained chat log.
	maxChatHistory = 100

	// chatSnapshotSize is how much chat history a joining client gets.
	chatSnapshotSize = 50
)

// ErrSessionLocked rejects edits from non-host clients while the host
// has locked the session.
var ErrSessionLocked = xerrors.New("Session is locked")

// Session owns one shared document together with its operation log,
// connected clients, presence state, comments and chat. All mutation is
// serialized behind a single mutex so the transform engine's
// base-revision assumption always holds; different sessions are fully
// independent.
type Session struct {
	ID string

	mu         sync.Mutex
	doc        models.Document
	engine     *ot.Engine
	clients    map[string]*Client
	joinOrder  []string
	cursors    map[string]models.CursorPosition
	selections map[string]models.Selection
	comments   []models.Comment
	chat       []models.ChatMessage

	createdAt    time.Time
	lastActivity time.Time
	locked       bool
	hostID       string

	log zerolog.Logger
	now func() time.Time
}

// SessionStats is the per-session slice of the server health report.
type SessionStats struct {
	SessionID      string    `json:"sessionId"`
	Clients        int       `json:"clients"`
	DocumentLength int       `json:"documentLength"`
	Operations     int       `json:"operations"`
	Comments       int       `json:"comments"`
	ChatMessages   int       `json:"chatMessages"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivity   time.Time `json:"lastActivity"`
}

// NewSession creates an empty session around the given seed document.
func NewSession(id string, doc models.Document, logger zerolog.Logger) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		doc:          doc,
		engine:       ot.NewEngine(),
		clients:      make(map[string]*Client),
		cursors:      make(map[string]models.CursorPosition),
		selections:   make(map[string]models.Selection),
		createdAt:    now,
		lastActivity: now,
		log:          logger.With().Str("session", id).Logger(),
		now:          time.Now,
	}
}

// AddClient registers a client, makes it host if the session was empty,
// sends it the full state snapshot and announces it to the others.
func (s *Session) AddClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.clients) == 0 {
		s.hostID = c.ID
	}
	s.clients[c.ID] = c
	s.joinOrder = append(s.joinOrder, c.ID)
	s.lastActivity = s.now()

	c.Send(models.MsgSessionState, s.snapshotLocked(c.ID))
	s.broadcastLocked(models.MsgClientJoined, models.ClientJoined{
		Client:      c.Info(),
		ClientCount: len(s.clients),
	}, c.ID)

	s.log.Info().Str("client", c.ID).Int("clients", len(s.clients)).Msg("client joined")
}

// RemoveClient drops a client and its presence state. If the host left
// and others remain, the earliest-joined remaining client becomes host.
func (s *Session) RemoveClient(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[clientID]; !ok {
		return
	}
	delete(s.clients, clientID)
	delete(s.cursors, clientID)
	delete(s.selections, clientID)
	for i, id := range s.joinOrder {
		if id == clientID {
			s.joinOrder = append(s.joinOrder[:i], s.joinOrder[i+1:]...)
			break
		}
	}

	if s.hostID == clientID {
		s.hostID = ""
		if len(s.joinOrder) > 0 {
			s.hostID = s.joinOrder[0]
		}
	}
	s.lastActivity = s.now()

	s.broadcastLocked(models.MsgClientLeft, models.ClientLeft{
		ClientID:    clientID,
		HostID:      s.hostID,
		ClientCount: len(s.clients),
	})

	s.log.Info().Str("client", clientID).Int("clients", len(s.clients)).Msg("client left")
}

// HandleOperation validates, reconciles, applies and broadcasts one edit
// submitted by c. Validation failures are answered with an
// operation-rejected message to c only; application failures (size cap,
// position bounds) are answered with operation-error and returned to the
// caller. The document mutates only after validation and transform both
// succeed.
func (s *Session) HandleOperation(c *Client, op models.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locked && c.ID != s.hostID {
		c.Send(models.MsgOperationRejected, models.OperationRejected{Reason: ErrSessionLocked.Error()})
		return nil
	}

	if err := validateOperation(&op); err != nil {
		c.Send(models.MsgOperationRejected, models.OperationRejected{Reason: err.Error()})
		return nil
	}
	op.ClientID = c.ID

	reconciled, err := s.engine.Reconcile(op)
	if err != nil {
		c.Send(models.MsgOperationRejected, models.OperationRejected{Reason: err.Error()})
		return nil
	}

	next, err := ot.Apply(s.doc.Content, reconciled)
	if err != nil {
		c.Send(models.MsgOperationError, models.OperationError{Error: err.Error()})
		return xerrors.Errorf("apply operation in session %s: %w", s.ID, err)
	}

	s.doc.Content = next
	revision := s.engine.Commit(reconciled)
	s.lastActivity = s.now()

	// Broadcast to every client, the sender included: the sender
	// reconciles its optimistic local state against this authoritative
	// frame. The enqueue happens under the session lock, so per-client
	// delivery order matches apply order.
	s.broadcastLocked(models.MsgOperationApplied, models.OperationApplied{
		Operation: reconciled,
		Revision:  revision,
		ClientID:  c.ID,
		Timestamp: s.now(),
	})
	return nil
}

// UpdateCursor stores the client's cursor and broadcasts it to everyone
// else.
func (s *Session) UpdateCursor(c *Client, cursor models.CursorPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[c.ID] = cursor
	s.lastActivity = s.now()
	s.broadcastLocked(models.MsgCursorUpdate, models.CursorBroadcast{
		ClientID: c.ID,
		Cursor:   cursor,
	}, c.ID)
}

// UpdateSelection stores or clears the client's selection and broadcasts
// the change to everyone else. A nil selection is a deselection.
func (s *Session) UpdateSelection(c *Client, sel *models.Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sel == nil {
		delete(s.selections, c.ID)
	} else {
		s.selections[c.ID] = *sel
	}
	s.lastActivity = s.now()
	s.broadcastLocked(models.MsgSelectionUpdate, models.SelectionBroadcast{
		ClientID:  c.ID,
		Selection: sel,
	}, c.ID)
}

// AddComment appends a comment and broadcasts it to all clients, the
// author included.
func (s *Session) AddComment(c *Client, content string, line, column int) models.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()

	comment := models.NewComment(c.ID, sanitizeContent(content), line, column)
	s.comments = append(s.comments, comment)
	s.lastActivity = s.now()
	s.broadcastLocked(models.MsgCommentAdded, models.CommentAdded{Comment: comment})
	return comment
}

// AddChatMessage appends a chat entry, trims the history to the most
// recent entries and broadcasts to all clients, the author included.
func (s *Session) AddChatMessage(c *Client, content, msgType string) models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := models.NewChatMessage(c.ID, sanitizeContent(content), msgType)
	s.chat = append(s.chat, msg)
	if len(s.chat) > maxChatHistory {
		s.chat = s.chat[len(s.chat)-maxChatHistory:]
	}
	s.lastActivity = s.now()
	s.broadcastLocked(models.MsgChatMessage, models.ChatBroadcast{Message: msg})
	return msg
}

// SetLocked toggles the session lock and announces the change to every
// member. Only the host may do so.
func (s *Session) SetLocked(clientID string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if clientID != s.hostID {
		return xerrors.New("only the host can lock the session")
	}
	if s.locked == locked {
		return nil
	}
	s.locked = locked
	s.lastActivity = s.now()
	s.broadcastLocked(models.MsgLockChanged, models.LockChanged{
		Locked:   locked,
		ClientID: clientID,
	})
	return nil
}

// DocumentSnapshot returns the current content and revision, used to
// seed an analysis run against a consistent view of the buffer.
func (s *Session) DocumentSnapshot() (models.Document, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc, s.engine.Revision()
}

// Broadcast sends a typed payload to every current member.
func (s *Session) Broadcast(msgType string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(msgType, payload)
}

// Close notifies every member that the session is going away, then
// closes their transports with a clean shutdown code.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.broadcastLocked(models.MsgSessionClosed, models.SessionClosed{Reason: reason})
	for _, c := range s.clients {
		c.transport.Close(websocket.CloseNormalClosure, reason)
	}
	s.clients = make(map[string]*Client)
	s.joinOrder = nil
	s.hostID = ""
}

// Empty reports whether the session has no connected clients.
func (s *Session) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients) == 0
}

// ClientCount returns the number of connected clients.
func (s *Session) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// HostID returns the current host's client id, or "" when empty.
func (s *Session) HostID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostID
}

// Revision returns the current document revision.
func (s *Session) Revision() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Revision()
}

// LastActivity returns the time of the most recent session mutation.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// Stats snapshots the counters used for server-level health reporting.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{
		SessionID:      s.ID,
		Clients:        len(s.clients),
		DocumentLength: len(s.doc.Content),
		Operations:     s.engine.LogLen(),
		Comments:       len(s.comments),
		ChatMessages:   len(s.chat),
		CreatedAt:      s.createdAt,
		LastActivity:   s.lastActivity,
	}
}

// snapshotLocked builds the session-state payload for a joining client.
func (s *Session) snapshotLocked(clientID string) models.SessionState {
	clients := make([]models.ClientInfo, 0, len(s.clients))
	for _, id := range s.joinOrder {
		if c, ok := s.clients[id]; ok {
			clients = append(clients, c.Info())
		}
	}

	cursors := make(map[string]models.CursorPosition, len(s.cursors))
	for id, cur := range s.cursors {
		cursors[id] = cur
	}
	selections := make(map[string]models.Selection, len(s.selections))
	for id, sel := range s.selections {
		selections[id] = sel
	}

	chat := s.chat
	if len(chat) > chatSnapshotSize {
		chat = chat[len(chat)-chatSnapshotSize:]
	}
	chatCopy := make([]models.ChatMessage, len(chat))
	copy(chatCopy, chat)

	comments := make([]models.Comment, len(s.comments))
	copy(comments, s.comments)

	return models.SessionState{
		SessionID:  s.ID,
		Document:   s.doc,
		Revision:   s.engine.Revision(),
		Clients:    clients,
		Cursors:    cursors,
		Selections: selections,
		Comments:   comments,
		Chat:       chatCopy,
		IsLocked:   s.locked,
		IsHost:     s.hostID == clientID,
		ClientID:   clientID,
	}
}

// broadcastLocked encodes once and queues the frame on every member's
// transport, skipping any excluded client ids. Callers hold s.mu.
func (s *Session) broadcastLocked(msgType string, payload any, exclude ...string) {
	frame, err := models.Encode(msgType, payload)
	if err != nil {
		s.log.Error().Err(err).Str("type", msgType).Msg("encode broadcast")
		return
	}
outer:
	for id, c := range s.clients {
		for _, ex := range exclude {
			if id == ex {
				continue outer
			}
		}
		c.transport.Send(frame)
	}
}

// validateOperation checks operation shape and size, sanitizing content
// in place before the size check. It mirrors the acceptance rules the
// clients rely on: unknown types, negative positions, oversized content,
// non-positive delete lengths and negative replace spans are rejected.
func validateOperation(op *models.Operation) error {
	if !op.Type.Valid() {
		return xerrors.Errorf("invalid operation type %q", op.Type)
	}
	if op.Position < 0 {
		return xerrors.New("position must be a non-negative number")
	}

	switch op.Type {
	case models.OpInsert, models.OpReplace:
		op.Content = sanitizeContent(op.Content)
		if len(op.Content) > models.MaxOperationContent {
			return xerrors.Errorf("content exceeds %d byte limit", models.MaxOperationContent)
		}
		if op.Type == models.OpReplace && op.OldLength < 0 {
			return xerrors.New("oldLength must be a non-negative number")
		}
	case models.OpDelete:
		if op.Length <= 0 {
			return xerrors.New("length must be a positive number")
		}
	}
	return nil
}

// sanitizeContent strips C0 control characters except tab, newline and
// carriage return.
func sanitizeContent(content string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, content)
}
