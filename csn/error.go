package csn

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of chain state error.
type ErrorCode int

// These constants are used to identify a specific ChainError.
const (
	// ErrInvalidProof indicates the block's proof does not verify against
	// the current roots.
	ErrInvalidProof ErrorCode = iota

	// ErrMalformedBlock indicates the block or its utreexo data is
	// structurally invalid.
	ErrMalformedBlock

	// ErrHeaderMismatch indicates the block does not build on the tip.
	ErrHeaderMismatch

	// ErrNoHistory indicates there is no undo record left to disconnect
	// with.
	ErrNoHistory

	// ErrUnknownForkPoint indicates a reorg branch does not fork from a
	// block inside the undo window.
	ErrUnknownForkPoint

	// ErrInsufficientWork indicates a reorg branch has no more work than
	// the blocks it would replace.
	ErrInsufficientWork

	// ErrUndoInconsistent indicates an undo record did not lead back to the
	// state it was recorded from. The chain state is unusable after this.
	ErrUndoInconsistent

	// ErrUnusableState is returned for every mutation once the chain state
	// has hit a fatal error.
	ErrUnusableState

	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrInvalidProof:     "ErrInvalidProof",
	ErrMalformedBlock:   "ErrMalformedBlock",
	ErrHeaderMismatch:   "ErrHeaderMismatch",
	ErrNoHistory:        "ErrNoHistory",
	ErrUnknownForkPoint: "ErrUnknownForkPoint",
	ErrInsufficientWork: "ErrInsufficientWork",
	ErrUndoInconsistent: "ErrUndoInconsistent",
	ErrUnusableState:    "ErrUnusableState",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error lets an ErrorCode be used as an errors.Is target.
func (e ErrorCode) Error() string {
	return e.String()
}

// ChainError is returned by the chain state for anything wrong with a block
// or with the chain state itself.
type ChainError struct {
	ErrorCode   ErrorCode
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e ChainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Description, e.Err)
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e ChainError) Unwrap() error {
	return e.Err
}

// Is matches an ErrorCode target.
func (e ChainError) Is(target error) bool {
	code, ok := target.(ErrorCode)
	return ok && code == e.ErrorCode
}

func chainError(c ErrorCode, err error, format string, args ...interface{}) ChainError {
	return ChainError{ErrorCode: c, Description: fmt.Sprintf(format, args...),
		Err: err}
}

// IsFatal says if err left the chain state unusable.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUndoInconsistent) || errors.Is(err, ErrUnusableState)
}
