package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geocoder89/shopfront/internal/domain/user"
	"github.com/google/uuid"
)

// UsersRepo is a single-process credential store. It enforces the same
// unique constraints as the postgres schema (email, external id) under one lock.
type UsersRepo struct {
	mu         sync.RWMutex
	items      map[string]user.User
	byEmail    map[string]string
	byExternal map[string]string
	now        func() time.Time
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		items:      make(map[string]user.User),
		byEmail:    make(map[string]string),
		byExternal: make(map[string]string),
		now:        time.Now,
	}
}

func (r *UsersRepo) Create(_ context.Context, nu user.NewUser) (user.User, error) {
	now := r.now().UTC()
	u := user.User{
		ID:           uuid.NewString(),
		Name:         nu.Name,
		Email:        user.NormalizeEmail(nu.Email),
		PasswordHash: nu.PasswordHash,
		ExternalID:   nu.ExternalID,
		IsAdmin:      nu.IsAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if u.ExternalID == "" {
		u.ExternalID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[u.Email]; ok {
		return user.User{}, user.ErrEmailTaken
	}
	if _, ok := r.byExternal[u.ExternalID]; ok {
		return user.User{}, user.ErrExternalIDTaken
	}

	r.items[u.ID] = u
	r.byEmail[u.Email] = u.ID
	r.byExternal[u.ExternalID] = u.ID

	return u, nil
}

func (r *UsersRepo) GetByEmail(_ context.Context, email string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[user.NormalizeEmail(email)]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return r.items[id], nil
}

func (r *UsersRepo) GetByID(_ context.Context, id string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u.WithoutSecret(), nil
}

func (r *UsersRepo) GetByExternalID(_ context.Context, externalID string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byExternal[externalID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return r.items[id].WithoutSecret(), nil
}

func (r *UsersRepo) List(_ context.Context) ([]user.User, error) {
	r.mu.RLock()
	out := make([]user.User, 0, len(r.items))
	for _, u := range r.items {
		out = append(out, u.WithoutSecret())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *UsersRepo) UpdateProfile(_ context.Context, id string, upd user.ProfileUpdate) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	if upd.Email != nil {
		if err := r.changeEmailLocked(&u, *upd.Email); err != nil {
			return user.User{}, err
		}
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	u.UpdatedAt = r.now().UTC()

	r.items[id] = u
	return u.WithoutSecret(), nil
}

func (r *UsersRepo) AdminUpdate(_ context.Context, id string, upd user.AdminUpdate) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	if upd.Email != nil {
		if err := r.changeEmailLocked(&u, *upd.Email); err != nil {
			return user.User{}, err
		}
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.IsAdmin != nil {
		u.IsAdmin = *upd.IsAdmin
	}
	u.UpdatedAt = r.now().UTC()

	r.items[id] = u
	return u.WithoutSecret(), nil
}

func (r *UsersRepo) changeEmailLocked(u *user.User, email string) error {
	email = user.NormalizeEmail(email)
	if email == u.Email {
		return nil
	}
	if _, taken := r.byEmail[email]; taken {
		return user.ErrEmailTaken
	}

	delete(r.byEmail, u.Email)
	r.byEmail[email] = u.ID
	u.Email = email
	return nil
}

func (r *UsersRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok {
		return user.ErrNotFound
	}

	delete(r.items, id)
	delete(r.byEmail, u.Email)
	delete(r.byExternal, u.ExternalID)
	return nil
}
