package seats

import (
	"sort"
	"sync"
)

// Inventory is the last known set of seats sold or held by others for one product.
// It is a cache of server state: replaced wholesale on refresh, and only ever
// patched with seats the server itself reported as conflicting.
type Inventory struct {
	mu    sync.RWMutex
	taken map[string]struct{}
}

func NewInventory(taken []string) *Inventory {
	inv := &Inventory{}
	inv.Replace(taken)
	return inv
}

func (i *Inventory) Replace(taken []string) {
	next := make(map[string]struct{}, len(taken))
	for _, code := range taken {
		next[Normalize(code)] = struct{}{}
	}
	i.mu.Lock()
	i.taken = next
	i.mu.Unlock()
}

// MarkTaken records seats the server refused to hold for us.
func (i *Inventory) MarkTaken(codes ...string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, code := range codes {
		i.taken[Normalize(code)] = struct{}{}
	}
}

func (i *Inventory) IsTaken(code string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.taken[Normalize(code)]
	return ok
}

// Taken returns the taken seats sorted.
func (i *Inventory) Taken() []string {
	i.mu.RLock()
	out := make([]string, 0, len(i.taken))
	for code := range i.taken {
		out = append(out, code)
	}
	i.mu.RUnlock()
	sort.Strings(out)
	return out
}
