package engine

import "sync"

// watchSet tracks which addresses currently have a live push subscription
// with the indexer. All access is serialized by its own mutex, so a
// concurrent processAddress's first-visit check and insert (§4.D step 2)
// never races.
type watchSet struct {
	mu        sync.Mutex
	addresses map[string]struct{}
}

func newWatchSet() *watchSet {
	return &watchSet{addresses: make(map[string]struct{})}
}

// addIfAbsent inserts address and reports true iff it was not already
// present — the "first-visit subscription" gate of §4.D.
func (w *watchSet) addIfAbsent(address string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.addresses[address]; ok {
		return false
	}
	w.addresses[address] = struct{}{}
	return true
}

// snapshot returns the full watch set as it stood at call time, used to
// (re)issue WatchAddresses whenever a new address is first visited.
func (w *watchSet) snapshot() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.addresses))
	for addr := range w.addresses {
		out = append(out, addr)
	}
	return out
}
