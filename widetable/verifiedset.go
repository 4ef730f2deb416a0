package widetable

import (
	"strings"
	"sync"
)

// verifiedTables mirrors kvblob's verified-container set (§5) for the
// table substrate: additive-only, case-insensitive, one set per store
// instance, with no way to clear it.
type verifiedTables struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

func newVerifiedTables() *verifiedTables {
	return &verifiedTables{seen: make(map[string]struct{})}
}

func (v *verifiedTables) has(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.seen[strings.ToLower(name)]
	return ok
}

func (v *verifiedTables) markVerified(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seen[strings.ToLower(name)] = struct{}{}
}
