package gameclient

import "sync"

type entityKey struct {
	Kind string
	ID   int64
}

// VersionTable tracks the last-applied version per entity on one client.
// Broadcasts from independent publishers carry no cross-path ordering
// guarantee, so every delivered update passes through Admit before being
// applied.
//
// The table is plain local state: it never touches the network and resets
// to empty on every fresh client construction. It is an explicit object so
// independent instances never share state.
type VersionTable struct {
	mu   sync.Mutex
	last map[entityKey]int64
}

// NewVersionTable creates an empty table; unseen entities default to 0.
func NewVersionTable() *VersionTable {
	return &VersionTable{last: make(map[entityKey]int64)}
}

// Admit reports whether an incoming update is current enough to apply.
// Equal versions are admitted so at-least-once delivery stays idempotent;
// only a strictly older version is rejected, leaving the table unchanged.
func (t *VersionTable) Admit(kind string, id, version int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := entityKey{Kind: kind, ID: id}
	if version < t.last[key] {
		return false
	}
	t.last[key] = version
	return true
}

// Last returns the last-applied version for an entity, 0 if unseen.
func (t *VersionTable) Last(kind string, id int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last[entityKey{Kind: kind, ID: id}]
}
