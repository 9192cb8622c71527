package pipeline

import (
	"errors"
	"fmt"
)

// DuplicateKeyError wraps a backend-specific unique-constraint violation on
// sys_ingested_at so the orchestrator can tally it without aborting the
// other backend's insert for the same record.
type DuplicateKeyError struct {
	Backend string
	Key     string
	Err     error
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: duplicate key %q: %v", e.Backend, e.Key, e.Err)
}

func (e *DuplicateKeyError) Unwrap() error {
	return e.Err
}

// IsDuplicateKey reports whether err is, or wraps, a DuplicateKeyError.
func IsDuplicateKey(err error) bool {
	var d *DuplicateKeyError
	return errors.As(err, &d)
}
