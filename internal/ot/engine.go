package ot

import (
	"golang.org/x/xerrors"

	"codecollab/internal/models"
)

// Application errors surfaced by Apply. The session layer reports these
// as operation errors without mutating the document.
var (
	ErrPositionOutOfBounds = xerrors.New("position out of bounds")
	ErrDocumentTooLarge    = xerrors.New("document size limit exceeded")
)

// Engine owns the append-only operation log and revision counter for one
// session. It is not safe for concurrent use; the owning session
// serializes access.
type Engine struct {
	ops []models.Operation
}

// NewEngine returns an engine with an empty log at revision zero.
func NewEngine() *Engine {
	return &Engine{}
}

// Revision is the number of operations applied so far. It increments
// exactly once per committed operation.
func (e *Engine) Revision() int {
	return len(e.ops)
}

// LogLen reports the operation log length. Equal to Revision; kept as a
// named accessor for stats reporting.
func (e *Engine) LogLen() int {
	return len(e.ops)
}

// Reconcile rewrites op against every operation committed since
// op.BaseRevision, in log order, so that applying the result at the
// current revision preserves the edit's intended effect. The result may
// be a no-op; callers must still commit it.
func (e *Engine) Reconcile(op models.Operation) (models.Operation, error) {
	if op.BaseRevision < 0 || op.BaseRevision > len(e.ops) {
		return models.Operation{}, xerrors.Errorf("base revision %d outside log bounds [0,%d]", op.BaseRevision, len(e.ops))
	}
	for _, concurrent := range e.ops[op.BaseRevision:] {
		op = transform(op, concurrent)
	}
	if op.Position < 0 {
		op.Position = 0
	}
	return op, nil
}

// Commit appends a reconciled operation to the log and returns the new
// revision number.
func (e *Engine) Commit(op models.Operation) int {
	e.ops = append(e.ops, op)
	return len(e.ops)
}

// Apply runs a reconciled operation against the document content and
// returns the new content. It enforces the position invariant and the
// document size cap; on error the content is returned unchanged.
func Apply(content string, op models.Operation) (string, error) {
	if op.Position < 0 || op.Position > len(content) {
		return content, ErrPositionOutOfBounds
	}

	var next string
	switch op.Type {
	case models.OpInsert:
		next = content[:op.Position] + op.Content + content[op.Position:]
	case models.OpDelete:
		end := min(op.End(), len(content))
		next = content[:op.Position] + content[end:]
	case models.OpReplace:
		end := min(op.Position+op.OldLength, len(content))
		next = content[:op.Position] + op.Content + content[end:]
	default:
		return content, xerrors.Errorf("unknown operation type %q", op.Type)
	}

	if len(next) > models.MaxDocumentSize {
		return content, ErrDocumentTooLarge
	}
	return next, nil
}
