package cached

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/shopfront/internal/cache"
	"github.com/geocoder89/shopfront/internal/domain/user"
)

type UserStore interface {
	Create(ctx context.Context, nu user.NewUser) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	GetByExternalID(ctx context.Context, externalID string) (user.User, error)
	List(ctx context.Context) ([]user.User, error)
	UpdateProfile(ctx context.Context, id string, upd user.ProfileUpdate) (user.User, error)
	AdminUpdate(ctx context.Context, id string, upd user.AdminUpdate) (user.User, error)
	Delete(ctx context.Context, id string) error
}

// UsersRepo answers GetByID, which the auth middleware calls on every
// request, from a short-lived cache. Writes through this repo evict the entry,
// so only other replicas can observe a stale user, for at most one TTL.
type UsersRepo struct {
	UserStore
	byID *cache.Cache[user.User]

	// gen is bumped by every write; a fill that started before a write is dropped.
	mu  sync.Mutex
	gen uint64
}

func NewUsersRepo(next UserStore, ttl time.Duration) *UsersRepo {
	return &UsersRepo{UserStore: next, byID: cache.New[user.User](ttl)}
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	if u, ok := r.byID.Get(id); ok {
		return u, nil
	}

	r.mu.Lock()
	startGen := r.gen
	r.mu.Unlock()

	u, err := r.UserStore.GetByID(ctx, id)
	if err != nil {
		return user.User{}, err
	}

	r.mu.Lock()
	if r.gen == startGen {
		r.byID.Set(id, u.WithoutSecret())
	}
	r.mu.Unlock()

	return u, nil
}

func (r *UsersRepo) UpdateProfile(ctx context.Context, id string, upd user.ProfileUpdate) (user.User, error) {
	u, err := r.UserStore.UpdateProfile(ctx, id, upd)
	r.invalidate(id)
	return u, err
}

func (r *UsersRepo) AdminUpdate(ctx context.Context, id string, upd user.AdminUpdate) (user.User, error) {
	u, err := r.UserStore.AdminUpdate(ctx, id, upd)
	r.invalidate(id)
	return u, err
}

func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	err := r.UserStore.Delete(ctx, id)
	r.invalidate(id)
	return err
}

func (r *UsersRepo) invalidate(id string) {
	r.mu.Lock()
	r.gen++
	r.byID.Delete(id)
	r.mu.Unlock()
}

// Prune is run by the sweeper.
func (r *UsersRepo) Prune(_ context.Context) (int, error) {
	return r.byID.Prune(), nil
}
