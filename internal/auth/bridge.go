package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/shopfront/internal/domain/user"
)

// ErrEmailConflict means the asserted email already belongs to a different
// account. Accounts are never linked implicitly.
var ErrEmailConflict = errors.New("email belongs to another account")

// maxIdentityAttempts bounds the lookup/create loop; one retry is enough when
// the only competitor is another create for the same subject.
const maxIdentityAttempts = 3

type ExternalIdentity struct {
	Subject string
	Name    string
	Email   string
}

type IdentityStore interface {
	GetByExternalID(ctx context.Context, externalID string) (user.User, error)
	Create(ctx context.Context, nu user.NewUser) (user.User, error)
}

// ResolveExternalIdentity returns the local account for id, creating it on
// first sight. created reports whether this call inserted the record. A
// concurrent create for the same subject loses on the unique constraint and
// falls back to the lookup.
func ResolveExternalIdentity(ctx context.Context, store IdentityStore, id ExternalIdentity) (u user.User, created bool, err error) {
	if id.Subject == "" {
		return user.User{}, false, fmt.Errorf("%w: empty subject", ErrTokenInvalid)
	}

	for attempt := 0; attempt < maxIdentityAttempts; attempt++ {
		u, err = store.GetByExternalID(ctx, id.Subject)
		if err == nil {
			return u, false, nil
		}
		if !errors.Is(err, user.ErrNotFound) {
			return user.User{}, false, fmt.Errorf("lookup external identity: %w", err)
		}

		u, err = store.Create(ctx, user.NewUser{
			Name:       id.Name,
			Email:      id.Email,
			ExternalID: id.Subject,
		})
		switch {
		case err == nil:
			return u.WithoutSecret(), true, nil
		case errors.Is(err, user.ErrExternalIDTaken):
			continue
		case errors.Is(err, user.ErrEmailTaken):
			return user.User{}, false, ErrEmailConflict
		default:
			return user.User{}, false, fmt.Errorf("create external identity: %w", err)
		}
	}

	return user.User{}, false, fmt.Errorf("resolve external identity %s: gave up after %d attempts", id.Subject, maxIdentityAttempts)
}
