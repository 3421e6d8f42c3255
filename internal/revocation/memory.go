package revocation

import (
	"context"
	"sync"
	"time"
)

// MemoryList is process-local: it does not survive restarts and is not
// shared between instances. Use RedisList for multi-node deployments.
type MemoryList struct {
	mu  sync.RWMutex
	m   map[string]time.Time
	now func() time.Time
}

func NewMemoryList() *MemoryList {
	return &MemoryList{
		m:   make(map[string]time.Time),
		now: time.Now,
	}
}

func (l *MemoryList) Revoke(_ context.Context, token string, expiresAt time.Time) error {
	if !expiresAt.After(l.now()) {
		return nil
	}

	key := fingerprint(token)

	l.mu.Lock()
	if cur, ok := l.m[key]; !ok || expiresAt.After(cur) {
		l.m[key] = expiresAt
	}
	l.mu.Unlock()

	return nil
}

func (l *MemoryList) IsRevoked(_ context.Context, token string) (bool, error) {
	key := fingerprint(token)
	now := l.now()

	l.mu.RLock()
	exp, ok := l.m[key]
	l.mu.RUnlock()

	if !ok {
		return false, nil
	}

	if now.After(exp) {
		l.mu.Lock()
		delete(l.m, key)
		l.mu.Unlock()
		return false, nil
	}

	return true, nil
}

// Sweep drops entries whose token has expired anyway and returns how many were removed.
func (l *MemoryList) Sweep(_ context.Context) (int, error) {
	now := l.now()
	removed := 0

	l.mu.Lock()
	for key, exp := range l.m {
		if now.After(exp) {
			delete(l.m, key)
			removed++
		}
	}
	l.mu.Unlock()

	return removed, nil
}

func (l *MemoryList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.m)
}
