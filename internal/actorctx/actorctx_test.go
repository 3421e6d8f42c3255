package actorctx

import (
	"context"
	"testing"

	"github.com/geocoder89/shopfront/internal/domain/user"
)

func TestWithUser_StripsSecret(t *testing.T) {
	ctx := WithUser(context.Background(), user.User{ID: "u1", PasswordHash: "hash", IsAdmin: true})

	u, ok := UserFrom(ctx)
	if !ok || u.ID != "u1" || !u.IsAdmin {
		t.Fatalf("unexpected user: %+v ok=%v", u, ok)
	}
	if u.PasswordHash != "" {
		t.Fatalf("password hash must not travel on the context")
	}

	id, ok := UserIDFrom(ctx)
	if !ok || id != "u1" {
		t.Fatalf("UserIDFrom = %q, %v", id, ok)
	}
}

func TestUserFrom_Empty(t *testing.T) {
	if _, ok := UserFrom(context.Background()); ok {
		t.Fatalf("expected no user on a bare context")
	}
}
