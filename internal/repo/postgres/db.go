package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/shopfront/internal/domain/user"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Observer times a logical DB operation. *observability.Prom satisfies it.
type Observer interface {
	ObserveDB(op string, fn func() error) error
}

type noopObserver struct{}

func (noopObserver) ObserveDB(_ string, fn func() error) error { return fn() }

const (
	uniqueViolation = "23505"

	constraintUsersEmail      = "users_email_key"
	constraintUsersExternalID = "users_external_id_key"
)

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}

	switch pgErr.ConstraintName {
	case constraintUsersEmail:
		return user.ErrEmailTaken
	case constraintUsersExternalID:
		return user.ErrExternalIDTaken
	default:
		return err
	}
}
