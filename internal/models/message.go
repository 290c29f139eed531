package models

import (
	"encoding/json"
	"time"

	"golang.org/x/xerrors"
)

// Envelope is the wire frame for every message in both directions. Data
// is decoded into the typed payload for the message type at the
// deserialization boundary, before any handler logic runs.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client -> server message types.
const (
	MsgCreateSession   = "create-session"
	MsgJoinSession     = "join-session"
	MsgOperation       = "operation"
	MsgCursorUpdate    = "cursor-update"
	MsgSelectionUpdate = "selection-update"
	MsgAddComment      = "add-comment"
	MsgChatMessage     = "chat-message"
	MsgSetLocked       = "set-locked"
	MsgRunAnalysis     = "run-analysis"
)

// Server -> client message types.
const (
	MsgSessionState      = "session-state"
	MsgClientJoined      = "client-joined"
	MsgClientLeft        = "client-left"
	MsgOperationApplied  = "operation"
	MsgOperationRejected = "operation-rejected"
	MsgOperationError    = "operation-error"
	MsgCommentAdded      = "comment-added"
	MsgLockChanged       = "lock-changed"
	MsgAnalysisStarted   = "analysis-started"
	MsgAnalysisResult    = "analysis-result"
	MsgAnalysisError     = "analysis-error"
	MsgSessionClosed     = "session-closed"
	MsgError             = "error"
)

// Encode marshals a typed payload into a wire frame.
func Encode(msgType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, xerrors.Errorf("encode %s payload: %w", msgType, err)
	}
	frame, err := json.Marshal(Envelope{Type: msgType, Data: raw})
	if err != nil {
		return nil, xerrors.Errorf("encode %s envelope: %w", msgType, err)
	}
	return frame, nil
}

// Client -> server payloads.

type CreateSessionRequest struct {
	SessionID string    `json:"sessionId,omitempty"`
	UserData  UserInfo  `json:"userData"`
	Document  *Document `json:"document,omitempty"`
}

type JoinSessionRequest struct {
	SessionID string   `json:"sessionId"`
	UserData  UserInfo `json:"userData"`
}

type CursorUpdateRequest struct {
	Cursor CursorPosition `json:"cursor"`
}

type SelectionUpdateRequest struct {
	Selection *Selection `json:"selection"` // nil clears the selection
}

type AddCommentRequest struct {
	Content string `json:"content"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
}

type ChatRequest struct {
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

type SetLockedRequest struct {
	Locked bool `json:"locked"`
}

type RunAnalysisRequest struct {
	DryRun bool  `json:"dryRun,omitempty"`
	Layers []int `json:"layers,omitempty"`
}

// Server -> client payloads.

// SessionState is the full snapshot sent exactly once to a client that
// just joined a session.
type SessionState struct {
	SessionID  string                    `json:"sessionId"`
	Document   Document                  `json:"document"`
	Revision   int                       `json:"revision"`
	Clients    []ClientInfo              `json:"clients"`
	Cursors    map[string]CursorPosition `json:"cursors"`
	Selections map[string]Selection      `json:"selections"`
	Comments   []Comment                 `json:"comments"`
	Chat       []ChatMessage             `json:"chat"`
	IsLocked   bool                      `json:"isLocked"`
	IsHost     bool                      `json:"isHost"`
	ClientID   string                    `json:"clientId"`
}

// ClientInfo is the public view of a session member.
type ClientInfo struct {
	ClientID string    `json:"clientId"`
	User     UserInfo  `json:"user"`
	JoinedAt time.Time `json:"joinedAt"`
}

type ClientJoined struct {
	Client      ClientInfo `json:"client"`
	ClientCount int        `json:"clientCount"`
}

type ClientLeft struct {
	ClientID    string `json:"clientId"`
	HostID      string `json:"hostId,omitempty"`
	ClientCount int    `json:"clientCount"`
}

// OperationApplied broadcasts an applied, transformed operation together
// with the new authoritative revision. It is sent to every session
// member including the submitter, which reconciles its optimistic local
// state against it.
type OperationApplied struct {
	Operation Operation `json:"operation"`
	Revision  int       `json:"revision"`
	ClientID  string    `json:"clientId"`
	Timestamp time.Time `json:"timestamp"`
}

type OperationRejected struct {
	Reason string `json:"reason"`
}

type OperationError struct {
	Error string `json:"error"`
}

type CursorBroadcast struct {
	ClientID string         `json:"clientId"`
	Cursor   CursorPosition `json:"cursor"`
}

type SelectionBroadcast struct {
	ClientID  string     `json:"clientId"`
	Selection *Selection `json:"selection"`
}

type CommentAdded struct {
	Comment Comment `json:"comment"`
}

type ChatBroadcast struct {
	Message ChatMessage `json:"message"`
}

type LockChanged struct {
	Locked   bool   `json:"locked"`
	ClientID string `json:"clientId"`
}

type AnalysisStarted struct {
	ClientID string `json:"clientId"`
	DryRun   bool   `json:"dryRun"`
}

type AnalysisResult struct {
	Success        bool `json:"success"`
	DetectedIssues any  `json:"detectedIssues,omitempty"`
	AppliedFixes   any  `json:"appliedFixes,omitempty"`
	Applied        bool `json:"applied"`
}

type AnalysisError struct {
	Error string `json:"error"`
}

type SessionClosed struct {
	Reason string `json:"reason"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}
