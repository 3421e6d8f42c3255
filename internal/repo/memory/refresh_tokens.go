package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/shopfront/internal/domain/user"
)

type RefreshTokensRepo struct {
	mu    sync.Mutex
	items map[string]user.RefreshSession
	now   func() time.Time
}

func NewRefreshTokensRepo() *RefreshTokensRepo {
	return &RefreshTokensRepo{
		items: make(map[string]user.RefreshSession),
		now:   time.Now,
	}
}

func (r *RefreshTokensRepo) Create(_ context.Context, s user.RefreshSession) error {
	r.mu.Lock()
	r.items[s.ID] = s
	r.mu.Unlock()
	return nil
}

func (r *RefreshTokensRepo) Rotate(_ context.Context, oldID, presentedHash string, next user.RefreshSession) (user.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.items[oldID]
	if !ok {
		return user.RefreshSession{}, user.ErrSessionNotFound
	}

	now := r.now().UTC()
	switch {
	case old.Revoked():
		return user.RefreshSession{}, user.ErrSessionRevoked
	case now.After(old.ExpiresAt):
		return user.RefreshSession{}, user.ErrSessionExpired
	case old.TokenHash != presentedHash:
		return user.RefreshSession{}, user.ErrSessionMismatch
	}

	replacedBy := next.ID
	old.RevokedAt = &now
	old.ReplacedBy = &replacedBy
	r.items[oldID] = old
	r.items[next.ID] = next

	return old, nil
}

func (r *RefreshTokensRepo) Revoke(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.items[id]
	if !ok || s.Revoked() {
		return nil
	}

	now := r.now().UTC()
	s.RevokedAt = &now
	r.items[id] = s
	return nil
}

func (r *RefreshTokensRepo) RevokeAllForUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	for id, s := range r.items {
		if s.UserID == userID && !s.Revoked() {
			s.RevokedAt = &now
			r.items[id] = s
		}
	}
	return nil
}

func (r *RefreshTokensRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	var n int64
	for id, s := range r.items {
		if s.ExpiresAt.Before(now) {
			delete(r.items, id)
			n++
		}
	}
	return n, nil
}
