package constants

import (
	"errors"
	"fmt"
)

// Recoverable errors. The caller decides whether to retry.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("revision conflict")
	ErrHasDependents    = errors.New("workspace has dependents")
	ErrPinnedWinner     = errors.New("workspace holds winners visible in no other workspace")
	ErrDefaultWorkspace = errors.New("default workspace cannot be deleted")
)

// ErrStructuralIntegrity is wrapped by every error that signals a malformed
// write or a corrupted index. The operation that returns it has been aborted
// without partial mutation.
var ErrStructuralIntegrity = errors.New("structural integrity violation")

var (
	ErrMissingParent      = fmt.Errorf("%w: missing parent", ErrStructuralIntegrity)
	ErrGenerationMismatch = fmt.Errorf("%w: generation mismatch", ErrStructuralIntegrity)
	ErrHashCollision      = fmt.Errorf("%w: revision id maps to different content", ErrStructuralIntegrity)
	ErrRootExists         = fmt.Errorf("%w: record already has a root revision", ErrStructuralIntegrity)
	ErrRevisionMismatch   = fmt.Errorf("%w: revision id does not match its content", ErrStructuralIntegrity)
)

// ErrInvariantViolation is an internal bug signal, never a user error.
var ErrInvariantViolation = errors.New("invariant violation")
