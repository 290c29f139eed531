package models

import (
	"time"

	"github.com/rs/xid"
)

// UserInfo describes a connected user as shown to other session members.
type UserInfo struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Color  string `json:"color,omitempty"` // hex color for cursor/highlight
}

// CursorPosition is where a user's cursor sits in the document.
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Selection is a user's highlighted range. A nil *Selection means the
// user has nothing selected.
type Selection struct {
	Start CursorPosition `json:"start"`
	End   CursorPosition `json:"end"`
}

// Comment is an annotation anchored to a document location. Comments are
// append-only; only the Resolved flag may change after creation.
type Comment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	Line      int       `json:"line"`
	Column    int       `json:"column"`
	Timestamp time.Time `json:"timestamp"`
	Resolved  bool      `json:"resolved"`
}

// NewComment builds a comment with a generated id and current timestamp.
func NewComment(authorID, content string, line, column int) Comment {
	return Comment{
		ID:        xid.New().String(),
		AuthorID:  authorID,
		Content:   content,
		Line:      line,
		Column:    column,
		Timestamp: time.Now(),
	}
}

// ChatMessage is one entry in a session's chat history.
type ChatMessage struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
}

// NewChatMessage builds a chat message with a generated id and current
// timestamp. An empty msgType defaults to "text".
func NewChatMessage(authorID, content, msgType string) ChatMessage {
	if msgType == "" {
		msgType = "text"
	}
	return ChatMessage{
		ID:        xid.New().String(),
		AuthorID:  authorID,
		Content:   content,
		Timestamp: time.Now(),
		Type:      msgType,
	}
}
