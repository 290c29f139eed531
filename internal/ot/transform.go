// Package ot implements the operational transform engine for the shared
// document. It is a pure package: no I/O, no shared state beyond the
// append-only operation log and the revision counter held by Engine.
package ot

import "codecollab/internal/models"

// transform rewrites op1 so that it can be applied after the concurrent,
// already-committed op2. Positions in op1 are offsets into the document
// as it was before op2 ran; the returned operation is expressed in the
// post-op2 coordinate space.
func transform(op1, op2 models.Operation) models.Operation {
	switch op2.Type {
	case models.OpInsert:
		return transformAgainstInsert(op1, op2)
	case models.OpDelete:
		return transformAgainstDelete(op1, op2)
	case models.OpReplace:
		return transformAgainstReplace(op1, op2)
	}
	return op1
}

func transformAgainstInsert(op1, op2 models.Operation) models.Operation {
	shift := len(op2.Content)

	switch op1.Type {
	case models.OpInsert:
		switch {
		case op1.Position < op2.Position:
			// earlier position is unaffected
		case op1.Position > op2.Position:
			op1.Position += shift
		default:
			// Same position: the lower client id keeps the spot, the
			// other insert lands after its content. Opaque string
			// compare so every replica picks the same winner.
			if op1.ClientID >= op2.ClientID {
				op1.Position += shift
			}
		}
	case models.OpDelete, models.OpReplace:
		if op1.Position > op2.Position {
			op1.Position += shift
		}
	}
	return op1
}

func transformAgainstDelete(op1, op2 models.Operation) models.Operation {
	switch op1.Type {
	case models.OpInsert:
		op1.Position = shiftPastDeletion(op1.Position, op2)

	case models.OpDelete:
		switch {
		case op1.Position >= op2.End():
			// fully after the removed span
			op1.Position -= op2.Length
		case op1.End() <= op2.Position:
			// fully before, unaffected
		case op1.Position <= op2.Position && op1.End() >= op2.End():
			// op1 covers op2: the covered part is already gone
			op1.Length -= op2.Length
		case op1.Position >= op2.Position && op1.End() <= op2.End():
			// op1 inside op2: nothing left to delete
			op1.Position = op2.Position
			op1.Length = 0
		case op1.Position < op2.Position:
			// tail of op1 overlaps op2: keep the leading remainder
			op1.Length = op2.Position - op1.Position
		default:
			// head of op1 overlaps op2: keep the trailing remainder
			op1.Length = op1.End() - op2.End()
			op1.Position = op2.Position
		}

	case models.OpReplace:
		// A replace behaves as insert-then-delete: its position moves
		// like an insert, its replaced span shrinks by the overlap.
		op1.OldLength -= overlap(op1.Position, op1.End(), op2.Position, op2.End())
		op1.Position = shiftPastDeletion(op1.Position, op2)
	}
	return op1
}

func transformAgainstReplace(op1, op2 models.Operation) models.Operation {
	switch op1.Type {
	case models.OpInsert, models.OpDelete:
		if op2.Position <= op1.Position {
			op1.Position += len(op2.Content)
		}
	case models.OpReplace:
		// Concurrent whole-span replaces cannot be merged: the one
		// issued against the later revision wins outright and the
		// loser collapses to a no-op placed after the winner's content.
		if op1.BaseRevision <= op2.BaseRevision {
			op1 = models.Operation{
				Type:         models.OpInsert,
				Position:     op2.Position + len(op2.Content),
				Content:      "",
				BaseRevision: op1.BaseRevision,
				ClientID:     op1.ClientID,
			}
		}
	}
	return op1
}

// shiftPastDeletion maps a single offset through the deletion performed
// by op2. Offsets inside the removed span clamp to its start.
func shiftPastDeletion(pos int, op2 models.Operation) int {
	switch {
	case pos <= op2.Position:
		return pos
	case pos >= op2.End():
		return pos - op2.Length
	default:
		return op2.Position
	}
}

// overlap returns the length of the intersection of [aStart,aEnd) and
// [bStart,bEnd), or zero when they are disjoint.
func overlap(aStart, aEnd, bStart, bEnd int) int {
	start := max(aStart, bStart)
	end := min(aEnd, bEnd)
	if end <= start {
		return 0
	}
	return end - start
}
