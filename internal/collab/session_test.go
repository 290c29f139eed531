package collab

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"codecollab/internal/models"
)

// fakeTransport captures outbound frames in memory.
type fakeTransport struct {
	mu          sync.Mutex
	frames      [][]byte
	closed      bool
	closeCode   int
	closeReason string
}

func (t *fakeTransport) Send(frame []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.frames = append(t.frames, frame)
}

func (t *fakeTransport) Close(code int, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.closeCode = code
	t.closeReason = reason
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// received decodes every captured frame of the given type.
func (t *fakeTransport) received(msgType string) []models.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.Envelope
	for _, frame := range t.frames {
		var env models.Envelope
		if err := json.Unmarshal(frame, &env); err == nil && env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func (t *fakeTransport) lastOf(msgType string) (models.Envelope, bool) {
	msgs := t.received(msgType)
	if len(msgs) == 0 {
		return models.Envelope{}, false
	}
	return msgs[len(msgs)-1], true
}

func decodePayload[T any](t *testing.T, env models.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func newTestClient(id string) (*Client, *fakeTransport) {
	transport := &fakeTransport{}
	c := NewClient(id, transport)
	c.User = models.UserInfo{Name: "user-" + id}
	return c, transport
}

func newTestSession(content string) *Session {
	return NewSession("sess-1", models.Document{
		Content:  content,
		Filename: "main.js",
		Language: "javascript",
	}, zerolog.Nop())
}

func TestAddClientSendsSnapshotAndMakesFirstClientHost(t *testing.T) {
	s := newTestSession("let x = 1\n")

	c1, t1 := newTestClient("a-first")
	s.AddClient(c1)

	env, ok := t1.lastOf(models.MsgSessionState)
	require.True(t, ok, "joining client must receive a session-state snapshot")
	state := decodePayload[models.SessionState](t, env)
	require.Equal(t, "sess-1", state.SessionID)
	require.Equal(t, "let x = 1\n", state.Document.Content)
	require.Equal(t, 0, state.Revision)
	require.True(t, state.IsHost)
	require.Equal(t, "a-first", state.ClientID)

	c2, t2 := newTestClient("b-second")
	s.AddClient(c2)

	env, ok = t2.lastOf(models.MsgSessionState)
	require.True(t, ok)
	state = decodePayload[models.SessionState](t, env)
	require.False(t, state.IsHost)
	require.Len(t, state.Clients, 2)

	// The first client is told about the newcomer; the newcomer is not.
	joins := t1.received(models.MsgClientJoined)
	require.Len(t, joins, 1)
	joined := decodePayload[models.ClientJoined](t, joins[0])
	require.Equal(t, "b-second", joined.Client.ClientID)
	require.Empty(t, t2.received(models.MsgClientJoined))
}

func TestHostTransferOnHostLeave(t *testing.T) {
	s := newTestSession("")

	host, _ := newTestClient("a-host")
	second, t2 := newTestClient("b-second")
	third, t3 := newTestClient("c-third")
	s.AddClient(host)
	s.AddClient(second)
	s.AddClient(third)

	require.Equal(t, "a-host", s.HostID())
	s.RemoveClient("a-host")

	// The earliest-joined remaining client is promoted.
	require.Equal(t, "b-second", s.HostID())

	for _, tr := range []*fakeTransport{t2, t3} {
		env, ok := tr.lastOf(models.MsgClientLeft)
		require.True(t, ok)
		left := decodePayload[models.ClientLeft](t, env)
		require.Equal(t, "a-host", left.ClientID)
		require.Equal(t, "b-second", left.HostID)
		require.Equal(t, 2, left.ClientCount)
	}
}

func TestValidateOperation(t *testing.T) {
	tests := []struct {
		name    string
		op      models.Operation
		wantErr bool
	}{
		{"unknown type", models.Operation{Type: "foo", Position: 0}, true},
		{"negative position", models.Operation{Type: models.OpInsert, Position: -1, Content: "x"}, true},
		{"delete without length", models.Operation{Type: models.OpDelete, Position: 0}, true},
		{"delete with negative length", models.Operation{Type: models.OpDelete, Position: 0, Length: -2}, true},
		{"oversized content", models.Operation{Type: models.OpInsert, Position: 0, Content: strings.Repeat("a", models.MaxOperationContent+1)}, true},
		{"negative replace span", models.Operation{Type: models.OpReplace, Position: 0, Content: "x", OldLength: -1}, true},
		{"valid insert", models.Operation{Type: models.OpInsert, Position: 0, Content: "hello"}, false},
		{"valid delete", models.Operation{Type: models.OpDelete, Position: 2, Length: 3}, false},
		{"valid replace", models.Operation{Type: models.OpReplace, Position: 1, Content: "x", OldLength: 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateOperation(&tt.op)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateOperationStripsControlCharacters(t *testing.T) {
	op := models.Operation{Type: models.OpInsert, Position: 0, Content: "a\x00b\x07c\td\ne\rf"}
	require.NoError(t, validateOperation(&op))
	require.Equal(t, "abc\td\ne\rf", op.Content)
}

func TestHandleOperationRejectsInvalidWithoutMutation(t *testing.T) {
	s := newTestSession("abc")
	c, tr := newTestClient("a-1")
	s.AddClient(c)

	require.NoError(t, s.HandleOperation(c, models.Operation{Type: "scribble", Position: 0}))

	env, ok := tr.lastOf(models.MsgOperationRejected)
	require.True(t, ok, "submitter must be told about the rejection")
	rejected := decodePayload[models.OperationRejected](t, env)
	require.Contains(t, rejected.Reason, "invalid operation type")

	doc, rev := s.DocumentSnapshot()
	require.Equal(t, "abc", doc.Content)
	require.Equal(t, 0, rev)
	require.Empty(t, tr.received(models.MsgOperationApplied))
}

func TestHandleOperationBroadcastsToAllIncludingSender(t *testing.T) {
	s := newTestSession("")
	c1, t1 := newTestClient("a-1")
	c2, t2 := newTestClient("b-2")
	s.AddClient(c1)
	s.AddClient(c2)

	op := models.Operation{Type: models.OpInsert, Position: 0, Content: "hi", BaseRevision: 0}
	require.NoError(t, s.HandleOperation(c1, op))

	for _, tr := range []*fakeTransport{t1, t2} {
		env, ok := tr.lastOf(models.MsgOperationApplied)
		require.True(t, ok)
		applied := decodePayload[models.OperationApplied](t, env)
		require.Equal(t, 1, applied.Revision)
		require.Equal(t, "a-1", applied.ClientID)
		require.Equal(t, "hi", applied.Operation.Content)
	}

	doc, rev := s.DocumentSnapshot()
	require.Equal(t, "hi", doc.Content)
	require.Equal(t, 1, rev)
}

func TestHandleOperationEnforcesDocumentSizeCap(t *testing.T) {
	s := newTestSession(strings.Repeat("a", models.MaxDocumentSize-4))
	c, tr := newTestClient("a-1")
	s.AddClient(c)

	op := models.Operation{Type: models.OpInsert, Position: 0, Content: "12345678", BaseRevision: 0}
	err := s.HandleOperation(c, op)
	require.Error(t, err)

	env, ok := tr.lastOf(models.MsgOperationError)
	require.True(t, ok)
	opErr := decodePayload[models.OperationError](t, env)
	require.Contains(t, opErr.Error, "size limit")

	doc, rev := s.DocumentSnapshot()
	require.Equal(t, models.MaxDocumentSize-4, len(doc.Content))
	require.Equal(t, 0, rev)
}

func TestLockedSessionRejectsNonHostEdits(t *testing.T) {
	s := newTestSession("")
	host, thost := newTestClient("a-host")
	guest, tguest := newTestClient("b-guest")
	s.AddClient(host)
	s.AddClient(guest)

	require.Error(t, s.SetLocked("b-guest", true))
	require.NoError(t, s.SetLocked("a-host", true))

	env, ok := tguest.lastOf(models.MsgLockChanged)
	require.True(t, ok)
	require.True(t, decodePayload[models.LockChanged](t, env).Locked)

	op := models.Operation{Type: models.OpInsert, Position: 0, Content: "x"}
	require.NoError(t, s.HandleOperation(guest, op))

	env, ok = tguest.lastOf(models.MsgOperationRejected)
	require.True(t, ok)
	require.Equal(t, "Session is locked", decodePayload[models.OperationRejected](t, env).Reason)

	// The host can still edit while locked.
	require.NoError(t, s.HandleOperation(host, op))
	_, ok = thost.lastOf(models.MsgOperationApplied)
	require.True(t, ok)
}

func TestCursorAndSelectionBroadcastSkipOrigin(t *testing.T) {
	s := newTestSession("")
	c1, t1 := newTestClient("a-1")
	c2, t2 := newTestClient("b-2")
	s.AddClient(c1)
	s.AddClient(c2)

	s.UpdateCursor(c1, models.CursorPosition{Line: 3, Column: 7})
	require.Empty(t, t1.received(models.MsgCursorUpdate))
	env, ok := t2.lastOf(models.MsgCursorUpdate)
	require.True(t, ok)
	cur := decodePayload[models.CursorBroadcast](t, env)
	require.Equal(t, "a-1", cur.ClientID)
	require.Equal(t, 3, cur.Cursor.Line)

	sel := &models.Selection{
		Start: models.CursorPosition{Line: 1, Column: 0},
		End:   models.CursorPosition{Line: 2, Column: 4},
	}
	s.UpdateSelection(c1, sel)
	env, ok = t2.lastOf(models.MsgSelectionUpdate)
	require.True(t, ok)
	require.NotNil(t, decodePayload[models.SelectionBroadcast](t, env).Selection)

	// nil clears the stored selection and broadcasts the deselection.
	s.UpdateSelection(c1, nil)
	env, ok = t2.lastOf(models.MsgSelectionUpdate)
	require.True(t, ok)
	require.Nil(t, decodePayload[models.SelectionBroadcast](t, env).Selection)

	s.mu.Lock()
	_, stored := s.selections["a-1"]
	s.mu.Unlock()
	require.False(t, stored)
}

func TestChatHistoryCapAndSnapshotWindow(t *testing.T) {
	s := newTestSession("")
	c1, t1 := newTestClient("a-1")
	s.AddClient(c1)

	for i := 0; i < maxChatHistory+20; i++ {
		s.AddChatMessage(c1, "msg", "")
	}

	require.Equal(t, maxChatHistory, s.Stats().ChatMessages)

	// Everyone including the author receives the broadcast.
	require.Len(t, t1.received(models.MsgChatMessage), maxChatHistory+20)

	// Late joiners only get the most recent window.
	c2, t2 := newTestClient("b-2")
	s.AddClient(c2)
	env, ok := t2.lastOf(models.MsgSessionState)
	require.True(t, ok)
	require.Len(t, decodePayload[models.SessionState](t, env).Chat, chatSnapshotSize)
}

func TestAddCommentBroadcastsToEveryone(t *testing.T) {
	s := newTestSession("")
	c1, t1 := newTestClient("a-1")
	c2, t2 := newTestClient("b-2")
	s.AddClient(c1)
	s.AddClient(c2)

	comment := s.AddComment(c1, "needs a null check", 12, 4)
	require.NotEmpty(t, comment.ID)
	require.False(t, comment.Resolved)

	for _, tr := range []*fakeTransport{t1, t2} {
		env, ok := tr.lastOf(models.MsgCommentAdded)
		require.True(t, ok)
		added := decodePayload[models.CommentAdded](t, env)
		require.Equal(t, "needs a null check", added.Comment.Content)
		require.Equal(t, "a-1", added.Comment.AuthorID)
	}
}

func TestCloseNotifiesBeforeClosingTransports(t *testing.T) {
	s := newTestSession("")
	c1, t1 := newTestClient("a-1")
	s.AddClient(c1)

	s.Close("Session closed due to inactivity")

	env, ok := t1.lastOf(models.MsgSessionClosed)
	require.True(t, ok)
	require.Equal(t, "Session closed due to inactivity", decodePayload[models.SessionClosed](t, env).Reason)
	require.True(t, t1.isClosed())
	require.True(t, s.Empty())
}

func TestStats(t *testing.T) {
	s := newTestSession("hello")
	c1, _ := newTestClient("a-1")
	s.AddClient(c1)
	require.NoError(t, s.HandleOperation(c1, models.Operation{Type: models.OpInsert, Position: 5, Content: "!"}))
	s.AddComment(c1, "note", 0, 0)

	st := s.Stats()
	require.Equal(t, 1, st.Clients)
	require.Equal(t, len("hello!"), st.DocumentLength)
	require.Equal(t, 1, st.Operations)
	require.Equal(t, 1, st.Comments)
	require.WithinDuration(t, time.Now(), st.LastActivity, time.Minute)
}
