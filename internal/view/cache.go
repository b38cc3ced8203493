package view

import (
	"sync"

	"github.com/driftlabs/taskcore/internal/eventlog"
)

// Cache memoizes the most recent materialization. The fingerprint is the
// log's length at materialization time, so any append invalidates the entry,
// even one outside the cached window. In-place mutation of appended events is
// undefined behavior the cache cannot detect; the log prevents it by handing
// out copies.
type Cache struct {
	mu     sync.Mutex
	valid  bool
	logLen int
	from   int64
	upTo   int64
	view   View
}

// Materialize returns the cached view when the log length and requested
// bounds are unchanged, recomputing otherwise.
func (c *Cache) Materialize(log *eventlog.Log, from, upTo int64) View {
	logLen := log.Len()

	c.mu.Lock()
	if c.valid && c.logLen == logLen && c.from == from && c.upTo == upTo {
		v := c.view
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	v := MaterializeRange(log, from, upTo)

	c.mu.Lock()
	c.valid = true
	c.logLen = logLen
	c.from = from
	c.upTo = upTo
	c.view = v
	c.mu.Unlock()
	return v
}

// Invalidate drops the cached view unconditionally.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
