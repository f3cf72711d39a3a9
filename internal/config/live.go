package config

import "sync"

// Live is the mutable settings slot shared between the operator surface,
// the sync broadcaster and the connection supervisor. Readers get a
// copy; writers replace the whole snapshot.
type Live struct {
	mu sync.RWMutex
	s  Settings
}

func NewLive(s Settings) *Live {
	return &Live{s: s}
}

func (l *Live) Snapshot() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s
}

func (l *Live) Replace(s Settings) {
	l.mu.Lock()
	l.s = s
	l.mu.Unlock()
}

// Dismiss satisfies the sync broadcaster's DismissConfig contract.
func (l *Live) Dismiss() (enabled bool, seconds int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s.AutoDismissEnabled, l.s.AutoDismissSeconds
}
