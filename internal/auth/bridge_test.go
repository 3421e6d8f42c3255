package auth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/geocoder89/shopfront/internal/domain/user"
	"github.com/geocoder89/shopfront/internal/repo/memory"
)

func TestResolveExternalIdentity_CreatesThenFinds(t *testing.T) {
	ctx := context.Background()
	store := memory.NewUsersRepo()
	id := ExternalIdentity{Subject: "google-123", Name: "Jane", Email: "jane@example.com"}

	u, created, err := ResolveExternalIdentity(ctx, store, id)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if !created || u.ExternalID != "google-123" || u.HasPassword() || u.IsAdmin {
		t.Fatalf("unexpected first result: created=%v user=%+v", created, u)
	}

	again, created, err := ResolveExternalIdentity(ctx, store, id)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if created || again.ID != u.ID {
		t.Fatalf("expected existing user %s, got created=%v id=%s", u.ID, created, again.ID)
	}
}

func TestResolveExternalIdentity_ConcurrentSameSubject(t *testing.T) {
	ctx := context.Background()
	store := memory.NewUsersRepo()
	id := ExternalIdentity{Subject: "google-race", Name: "Racer", Email: "race@example.com"}

	const n = 16
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, _, err := ResolveExternalIdentity(ctx, store, id)
			ids[i], errs[i] = u.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("resolve %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("resolve %d returned a different user: %s vs %s", i, ids[i], ids[0])
		}
	}

	all, _ := store.List(ctx)
	if len(all) != 1 {
		t.Fatalf("expected exactly one persisted user, got %d", len(all))
	}
}

// racingStore simulates losing the insert race: the first lookup misses,
// the create hits the unique constraint, the retry finds the winner.
type racingStore struct {
	lookups int
	winner  user.User
}

func (s *racingStore) GetByExternalID(_ context.Context, _ string) (user.User, error) {
	s.lookups++
	if s.lookups == 1 {
		return user.User{}, user.ErrNotFound
	}
	return s.winner, nil
}

func (s *racingStore) Create(context.Context, user.NewUser) (user.User, error) {
	return user.User{}, user.ErrExternalIDTaken
}

func TestResolveExternalIdentity_RetriesLookupOnDuplicate(t *testing.T) {
	store := &racingStore{winner: user.User{ID: "winner", ExternalID: "sub"}}

	u, created, err := ResolveExternalIdentity(context.Background(), store, ExternalIdentity{Subject: "sub", Name: "n", Email: "e@x.com"})

	if err != nil || created || u.ID != "winner" {
		t.Fatalf("expected winner without create, got %+v created=%v err=%v", u, created, err)
	}
	if store.lookups != 2 {
		t.Fatalf("expected 2 lookups, got %d", store.lookups)
	}
}

func TestResolveExternalIdentity_EmailOwnedByLocalAccount(t *testing.T) {
	ctx := context.Background()
	store := memory.NewUsersRepo()
	if _, err := store.Create(ctx, user.NewUser{Name: "Local", Email: "jane@example.com", PasswordHash: "h"}); err != nil {
		t.Fatal(err)
	}

	_, _, err := ResolveExternalIdentity(ctx, store, ExternalIdentity{Subject: "g-1", Name: "Jane", Email: "JANE@example.com"})

	if !errors.Is(err, ErrEmailConflict) {
		t.Fatalf("expected ErrEmailConflict, got %v", err)
	}
}

func TestResolveExternalIdentity_EmptySubject(t *testing.T) {
	_, _, err := ResolveExternalIdentity(context.Background(), memory.NewUsersRepo(), ExternalIdentity{})
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}
