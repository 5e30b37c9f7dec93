package ledger

import "errors"

// Sentinel errors for expected conditions. The ledger never retries
// internally; callers re-read and decide.
var (
	// ErrNotFound marks a missing object, environment, alias, variant,
	// or history ancestor.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists marks creation of an environment or alias that
	// already resolves.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict marks a lost head CAS race: the stored head already
	// equals the target version, or another writer moved the head between
	// the caller's read and this write.
	ErrConflict = errors.New("conflict")

	// ErrConditionFailed marks a lost latest-version or repair race.
	// Callers must re-read before retrying.
	ErrConditionFailed = errors.New("condition failed")
)
