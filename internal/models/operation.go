package models

// Size caps enforced on every inbound operation and on the shared document.
const (
	// MaxOperationContent bounds the content payload of a single
	// insert/replace operation.
	MaxOperationContent = 10 * 1024 // 10 KiB

	// MaxDocumentSize bounds the shared document after any mutation.
	MaxDocumentSize = 2 * 1024 * 1024 // 2 MiB
)

// OpType identifies the kind of edit an Operation performs.
type OpType string

const (
	OpInsert  OpType = "insert"
	OpDelete  OpType = "delete"
	OpReplace OpType = "replace"
)

// Valid reports whether t is one of the three known operation kinds.
func (t OpType) Valid() bool {
	switch t {
	case OpInsert, OpDelete, OpReplace:
		return true
	}
	return false
}

// Operation is a single edit against the shared document. Positions and
// lengths are byte offsets into the UTF-8 document content; the same
// encoding is used for validation, transformation and application.
type Operation struct {
	Type     OpType `json:"type"`
	Position int    `json:"position"`

	// Content is the inserted payload for insert/replace operations.
	Content string `json:"content,omitempty"`

	// Length is the removed span for delete operations.
	Length int `json:"length,omitempty"`

	// OldLength is the replaced span for replace operations.
	OldLength int `json:"oldLength,omitempty"`

	// BaseRevision is the document revision the client had when it
	// issued the operation. The transform engine reconciles the
	// operation against everything applied since.
	BaseRevision int `json:"baseRevision"`

	// ClientID identifies the origin client and doubles as the
	// deterministic tie-break for same-position concurrent edits.
	ClientID string `json:"clientId"`
}

// IsNoop reports whether the operation has no effect on the document.
// Transforms may legitimately reduce an operation to a no-op; such
// operations still commit and bump the revision.
func (op Operation) IsNoop() bool {
	switch op.Type {
	case OpInsert:
		return op.Content == ""
	case OpDelete:
		return op.Length == 0
	case OpReplace:
		return op.Content == "" && op.OldLength == 0
	}
	return true
}

// End returns the exclusive end offset of the span the operation removes.
// Inserts remove nothing, so End equals Position.
func (op Operation) End() int {
	switch op.Type {
	case OpDelete:
		return op.Position + op.Length
	case OpReplace:
		return op.Position + op.OldLength
	}
	return op.Position
}
