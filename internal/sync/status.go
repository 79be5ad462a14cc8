package sync

import "sync"

// StatusMap records, per collection, whether replication is currently live.
// Only the Manager writes it; readers get copies.
type StatusMap struct {
	mu     sync.RWMutex
	online map[string]bool
}

// NewStatusMap creates an empty map
func NewStatusMap() *StatusMap {
	return &StatusMap{online: make(map[string]bool)}
}

// set stores the value and reports whether it differs from the previous
// one (an unprobed collection always counts as a change).
func (s *StatusMap) set(name string, online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.online[name]
	s.online[name] = online
	return !ok || prev != online
}

// Get returns the status of one collection; unprobed collections are offline
func (s *StatusMap) Get(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online[name]
}

// Snapshot returns a copy of the whole map
func (s *StatusMap) Snapshot() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.online))
	for k, v := range s.online {
		out[k] = v
	}
	return out
}
