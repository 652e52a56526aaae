package blockgrid

import "github.com/NebulousLabs/errors"

// Error kinds, not types. Each is a flat sentinel, matching this
// codebase's usual style of named package-level errors rather than a
// wrapped taxonomy.
var (
	// ErrCellExists is returned by NewBlock when index is already present.
	ErrCellExists = errors.New("index already exists in the grid")

	// ErrPreviousNotMined is the PreconditionFailed kind returned when
	// mining is attempted before the target cell exists/has been created.
	ErrPreviousNotMined = errors.New("previous block has not been mined")

	// ErrAlreadyMined is the PreconditionFailed kind returned when mining
	// targets a cell that already has an owner and proof.
	ErrAlreadyMined = errors.New("block has already been mined")

	// ErrMissingValues is the PreconditionFailed kind returned when a
	// required field is absent from a request.
	ErrMissingValues = errors.New("missing values")

	// ErrCellNotFound is returned by operations that require index to
	// already be present in the grid.
	ErrCellNotFound = errors.New("index not found in the grid")

	// ErrValidationFailed is the ValidationFailed kind, returned by
	// SignBlock when the supplied proof does not satisfy the cell's
	// proof-of-work challenge. ValidGrid itself reports a bool, not this
	// error.
	ErrValidationFailed = errors.New("grid failed validation")

	// ErrConcurrentWrite is the ConcurrentWrite kind: an optimistic save
	// lost a race and must be retried by the caller.
	ErrConcurrentWrite = errors.New("concurrent write detected")
)
