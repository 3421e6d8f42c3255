// Package actorctx carries the authenticated user on a request context so
// code below the HTTP layer can see who is acting.
package actorctx

import (
	"context"

	"github.com/geocoder89/shopfront/internal/domain/user"
)

type ctxKey string

const keyUser ctxKey = "actor_user"

func WithUser(ctx context.Context, u user.User) context.Context {
	return context.WithValue(ctx, keyUser, u.WithoutSecret())
}

func UserFrom(ctx context.Context) (user.User, bool) {
	u, ok := ctx.Value(keyUser).(user.User)
	return u, ok && u.ID != ""
}

func UserIDFrom(ctx context.Context) (string, bool) {
	u, ok := UserFrom(ctx)
	return u.ID, ok
}
