package accumulator

import (
	"errors"
)

var (
	// ErrProofMismatch means a proof does not hash up to the current roots,
	// or is shaped wrong for the targets it claims to prove.
	ErrProofMismatch = errors.New("proof does not match the accumulator")

	// ErrUnknownPosition means a target is outside the current leaf range.
	ErrUnknownPosition = errors.New("position not in the accumulator")

	// ErrUndoMismatch means an undo block does not lead from its recorded
	// pre-state to the current state.
	ErrUndoMismatch = errors.New("undo block does not match the accumulator")

	// ErrLeafNotFound is returned by the forest when asked to prove or
	// delete a hash it does not hold.
	ErrLeafNotFound = errors.New("leaf not found")
)
