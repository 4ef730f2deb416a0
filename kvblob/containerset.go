package kvblob

import (
	"strings"
	"sync"
)

// verifiedContainers is the "we've already ensured this container exists"
// set described in §5: additive-only, case-insensitive. Each store
// instance builds its own set, so it lives as long as that store, not the
// process, and two stores for the same container each verify it once. On
// failure to create, the name is not added.
type verifiedContainers struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

func newVerifiedContainers() *verifiedContainers {
	return &verifiedContainers{seen: make(map[string]struct{})}
}

func (v *verifiedContainers) has(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.seen[strings.ToLower(name)]
	return ok
}

func (v *verifiedContainers) markVerified(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seen[strings.ToLower(name)] = struct{}{}
}

// reset clears the set. Nothing in this module calls it: production code
// has no path that un-verifies a container.
func (v *verifiedContainers) reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seen = make(map[string]struct{})
}
