// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/momentics/netengine/dbqueue"
)

// ExecutedQuery records one call to Database.Exec for assertions.
type ExecutedQuery struct {
	Query string
	Args  []any
}

// Database is an in-memory dbqueue.Database double that records every
// executed statement instead of talking to a real driver, grounded on
// original_source's MockDatabase (Connect/Disconnect/GetExecutedQueries).
type Database struct {
	mu        sync.Mutex
	connected bool
	log       []ExecutedQuery
	failNext  bool
}

var _ dbqueue.Database = (*Database)(nil)

// NewDatabase returns a Database already connected, matching the common
// test setup where a DB is available unless explicitly disconnected.
func NewDatabase() *Database { return &Database{connected: true} }

// Connect marks the fake as reachable.
func (d *Database) Connect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
}

// Disconnect marks the fake as unreachable, exercising the no-DB fallback
// path in dbqueue's task handlers.
func (d *Database) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
}

// FailNextExec makes the next Exec call return an error.
func (d *Database) FailNextExec() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = true
}

func (d *Database) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *Database) Exec(_ context.Context, query string, args ...any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failNext {
		d.failNext = false
		return fmt.Errorf("fake: forced exec failure")
	}
	d.log = append(d.log, ExecutedQuery{Query: query, Args: args})
	return nil
}

// ExecutedQueries returns a copy of every statement executed so far.
func (d *Database) ExecutedQueries() []ExecutedQuery {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ExecutedQuery, len(d.log))
	copy(out, d.log)
	return out
}
