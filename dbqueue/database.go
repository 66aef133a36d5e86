// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package dbqueue

import "context"

// Database is the capability contract a DBTaskQueue needs from a real
// database driver: spec.md scopes the actual driver out, leaving only this
// interface to matter. Grounded on original_source's IDatabase/IStatement
// pair, collapsed to the single method the three handler functions
// actually call (parameterized Exec), matching the teacher's habit of
// depending on narrow interfaces rather than a full driver surface.
type Database interface {
	// IsConnected reports whether the database is reachable. A queue whose
	// Database reports false falls back to log-only handling, exactly as
	// original_source's Handle* methods do when mDatabase is null or
	// disconnected.
	IsConnected() bool
	// Exec runs a parameterized statement and returns the error, if any.
	Exec(ctx context.Context, query string, args ...any) error
}
