package novasonic

import (
	"fmt"
	"sync"
)

// contentKey identifies an outbound content block slot by type and role.
type contentKey struct {
	typ  ContentType
	role Role
}

// contentTable is the authoritative record of which outbound content blocks
// are currently open. The protocol allows at most one open block per type
// and role, and every contentStart must be paired with a contentEnd before
// another block of the same kind can open.
type contentTable struct {
	mu   sync.Mutex
	open map[contentKey]string // slot -> content name on the wire
}

func newContentTable() *contentTable {
	return &contentTable{open: make(map[contentKey]string)}
}

// openBlock records a block as open under its wire name. Opening a slot
// that is already occupied is a state error.
func (t *contentTable) openBlock(typ ContentType, role Role, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := contentKey{typ, role}
	if existing, ok := t.open[k]; ok {
		return NewStateError("contentStart",
			fmt.Sprintf("%s block for role %s already open as %q", typ, role, existing))
	}
	t.open[k] = name
	return nil
}

// closeBlock removes the record for a slot and returns the wire name it
// held. Closing a slot that is not open reports ok=false; callers treat
// that as a no-op rather than an error.
func (t *contentTable) closeBlock(typ ContentType, role Role) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := contentKey{typ, role}
	name, ok := t.open[k]
	if ok {
		delete(t.open, k)
	}
	return name, ok
}

// name reports the wire name of an open slot without closing it.
func (t *contentTable) name(typ ContentType, role Role) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	name, ok := t.open[contentKey{typ, role}]
	return name, ok
}

// reset clears every record and returns the wire names that were open, so
// teardown can close them on the wire.
func (t *contentTable) reset() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.open))
	for _, name := range t.open {
		names = append(names, name)
	}
	t.open = make(map[contentKey]string)
	return names
}
