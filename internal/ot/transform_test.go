package ot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"codecollab/internal/models"
)

func insertOp(client string, pos int, content string) models.Operation {
	return models.Operation{Type: models.OpInsert, Position: pos, Content: content, ClientID: client}
}

func deleteOp(client string, pos, length int) models.Operation {
	return models.Operation{Type: models.OpDelete, Position: pos, Length: length, ClientID: client}
}

func replaceOp(client string, pos int, oldLen int, content string) models.Operation {
	return models.Operation{Type: models.OpReplace, Position: pos, OldLength: oldLen, Content: content, ClientID: client}
}

// applyInOrder reconciles and applies a then b, both issued against
// revision zero, and returns the final document.
func applyInOrder(t *testing.T, doc string, ops ...models.Operation) string {
	t.Helper()
	engine := NewEngine()
	for _, op := range ops {
		reconciled, err := engine.Reconcile(op)
		require.NoError(t, err)
		next, err := Apply(doc, reconciled)
		require.NoError(t, err)
		doc = next
		engine.Commit(reconciled)
	}
	return doc
}

func TestConvergence(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		a, b models.Operation
	}{
		{
			name: "insert insert distinct positions",
			doc:  "abcdef",
			a:    insertOp("c1", 1, "X"),
			b:    insertOp("c2", 4, "YY"),
		},
		{
			name: "insert insert same position",
			doc:  "abc",
			a:    insertOp("c2", 1, "X"),
			b:    insertOp("c1", 1, "Y"),
		},
		{
			name: "insert before concurrent delete",
			doc:  "hello world",
			a:    insertOp("c1", 0, ">>"),
			b:    deleteOp("c2", 6, 5),
		},
		{
			name: "insert after concurrent delete",
			doc:  "hello world",
			a:    insertOp("c1", 11, "!"),
			b:    deleteOp("c2", 0, 5),
		},
		{
			name: "delete delete disjoint",
			doc:  "abcdefghij",
			a:    deleteOp("c1", 0, 2),
			b:    deleteOp("c2", 5, 3),
		},
		{
			name: "delete contains delete",
			doc:  "abcdefghij",
			a:    deleteOp("c1", 1, 6),
			b:    deleteOp("c2", 2, 3),
		},
		{
			name: "delete inside delete",
			doc:  "abcdefghij",
			a:    deleteOp("c1", 3, 2),
			b:    deleteOp("c2", 1, 7),
		},
		{
			name: "delete partial overlap leading",
			doc:  "abcdefghij",
			a:    deleteOp("c1", 0, 4),
			b:    deleteOp("c2", 2, 5),
		},
		{
			name: "identical deletes",
			doc:  "abcdefghij",
			a:    deleteOp("c1", 2, 3),
			b:    deleteOp("c2", 2, 3),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ab := applyInOrder(t, tt.doc, tt.a, tt.b)
			ba := applyInOrder(t, tt.doc, tt.b, tt.a)
			require.Equal(t, ab, ba, "documents diverged between submission orders")
		})
	}
}

func TestInsertTieBreakScenario(t *testing.T) {
	// Client A submits insert("X", 0); client B submits insert("Y", 0)
	// with the lexicographically smaller client id. B keeps position 0,
	// A shifts to 1, the document starts with "YX" at revision 2.
	engine := NewEngine()
	doc := ""

	a := insertOp("clientB", 0, "X")
	b := insertOp("clientA", 0, "Y")

	ra, err := engine.Reconcile(a)
	require.NoError(t, err)
	doc, err = Apply(doc, ra)
	require.NoError(t, err)
	engine.Commit(ra)

	rb, err := engine.Reconcile(b)
	require.NoError(t, err)
	require.Equal(t, 0, rb.Position)
	doc, err = Apply(doc, rb)
	require.NoError(t, err)
	engine.Commit(rb)

	require.Equal(t, "YX", doc)
	require.Equal(t, 2, engine.Revision())
}

func TestDeleteShiftsConcurrentInsert(t *testing.T) {
	// Document "hello world": delete(0, 5) concurrent with insert("!", 11).
	// The insert shifts to 6 and the result is " world!".
	engine := NewEngine()
	doc := "hello world"

	del := deleteOp("c1", 0, 5)
	rdel, err := engine.Reconcile(del)
	require.NoError(t, err)
	doc, err = Apply(doc, rdel)
	require.NoError(t, err)
	engine.Commit(rdel)
	require.Equal(t, " world", doc)

	ins := insertOp("c2", 11, "!")
	rins, err := engine.Reconcile(ins)
	require.NoError(t, err)
	require.Equal(t, 6, rins.Position)

	doc, err = Apply(doc, rins)
	require.NoError(t, err)
	engine.Commit(rins)
	require.Equal(t, " world!", doc)
}

func TestInsertInsideConcurrentDeleteClamps(t *testing.T) {
	// An insert whose position fell inside a concurrently deleted span
	// clamps to the start of the deletion; the content survives.
	engine := NewEngine()
	doc := "hello world"

	del := deleteOp("c1", 5, 6)
	rdel, err := engine.Reconcile(del)
	require.NoError(t, err)
	doc, err = Apply(doc, rdel)
	require.NoError(t, err)
	engine.Commit(rdel)
	require.Equal(t, "hello", doc)

	ins := insertOp("c2", 7, "X")
	rins, err := engine.Reconcile(ins)
	require.NoError(t, err)
	require.Equal(t, 5, rins.Position)

	doc, err = Apply(doc, rins)
	require.NoError(t, err)
	require.Equal(t, "helloX", doc)
}

func TestDeleteInsideConcurrentDeleteBecomesNoop(t *testing.T) {
	engine := NewEngine()
	doc := "abcdefghij"

	big := deleteOp("c1", 1, 7)
	rbig, err := engine.Reconcile(big)
	require.NoError(t, err)
	doc, err = Apply(doc, rbig)
	require.NoError(t, err)
	engine.Commit(rbig)

	small := deleteOp("c2", 3, 2)
	rsmall, err := engine.Reconcile(small)
	require.NoError(t, err)
	require.Equal(t, 0, rsmall.Length)
	require.True(t, rsmall.IsNoop())

	// A reconciled no-op still applies cleanly and changes nothing.
	next, err := Apply(doc, rsmall)
	require.NoError(t, err)
	require.Equal(t, doc, next)
	engine.Commit(rsmall)
	require.Equal(t, 2, engine.Revision())
}

func TestReplaceAgainstConcurrentInsert(t *testing.T) {
	engine := NewEngine()
	doc := "abcdef"

	ins := insertOp("c1", 0, "..")
	rins, err := engine.Reconcile(ins)
	require.NoError(t, err)
	doc, err = Apply(doc, rins)
	require.NoError(t, err)
	engine.Commit(rins)

	// Replace of "cd" issued before the insert landed: position shifts
	// past the inserted prefix.
	rep := replaceOp("c2", 2, 2, "XY")
	rrep, err := engine.Reconcile(rep)
	require.NoError(t, err)
	require.Equal(t, 4, rrep.Position)

	doc, err = Apply(doc, rrep)
	require.NoError(t, err)
	require.Equal(t, "..abXYef", doc)
}

func TestReplaceSpanShrinksUnderConcurrentDelete(t *testing.T) {
	engine := NewEngine()
	doc := "abcdefghij"

	del := deleteOp("c1", 2, 4) // removes "cdef"
	rdel, err := engine.Reconcile(del)
	require.NoError(t, err)
	doc, err = Apply(doc, rdel)
	require.NoError(t, err)
	engine.Commit(rdel)
	require.Equal(t, "abghij", doc)

	// Replace of "defg" overlaps the deleted span by three bytes.
	rep := replaceOp("c2", 3, 4, "XXXX")
	rrep, err := engine.Reconcile(rep)
	require.NoError(t, err)
	require.Equal(t, 2, rrep.Position)
	require.Equal(t, 1, rrep.OldLength)

	doc, err = Apply(doc, rrep)
	require.NoError(t, err)
	require.Equal(t, "abXXXXhij", doc)
}

func TestConcurrentReplaceLaterBaseRevisionWins(t *testing.T) {
	engine := NewEngine()
	doc := "stale content here"

	winner := replaceOp("c1", 0, len(doc), "fresh")
	winner.BaseRevision = 1

	// Bring the log to revision 1 first.
	seed := insertOp("c0", 0, "")
	rseed, err := engine.Reconcile(seed)
	require.NoError(t, err)
	engine.Commit(rseed)

	rwin, err := engine.Reconcile(winner)
	require.NoError(t, err)
	doc, err = Apply(doc, rwin)
	require.NoError(t, err)
	engine.Commit(rwin)
	require.Equal(t, "fresh", doc)

	// A whole-document replace issued against the older revision loses
	// outright and collapses to a no-op after the winner's content.
	loser := replaceOp("c2", 0, 18, "other")
	loser.BaseRevision = 1
	rlose, err := engine.Reconcile(loser)
	require.NoError(t, err)
	require.Equal(t, models.OpInsert, rlose.Type)
	require.True(t, rlose.IsNoop())
	require.Equal(t, len("fresh"), rlose.Position)

	next, err := Apply(doc, rlose)
	require.NoError(t, err)
	require.Equal(t, "fresh", next)
}

func TestReconcileRejectsOutOfBoundsBaseRevision(t *testing.T) {
	engine := NewEngine()

	op := insertOp("c1", 0, "X")
	op.BaseRevision = 3
	_, err := engine.Reconcile(op)
	require.Error(t, err)

	op.BaseRevision = -1
	_, err = engine.Reconcile(op)
	require.Error(t, err)
}

func TestApplyBounds(t *testing.T) {
	_, err := Apply("abc", insertOp("c1", 4, "X"))
	require.ErrorIs(t, err, ErrPositionOutOfBounds)

	// Delete spans past the end clamp instead of failing.
	next, err := Apply("abc", deleteOp("c1", 1, 10))
	require.NoError(t, err)
	require.Equal(t, "a", next)
}
