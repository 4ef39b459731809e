package branch

import "errors"

// Terminal errors surfaced by the branching core. Callers are expected
// to match with errors.Is; no operation retries internally, and a
// returned error means no mutation was persisted.
var (
	ErrNotFound        = errors.New("not found")
	ErrAccessDenied    = errors.New("access denied")
	ErrUnauthenticated = errors.New("unauthenticated")
)
