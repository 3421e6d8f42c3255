package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/shopfront/internal/domain/user"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// publicColumns never includes password_hash; only GetByEmail reads the hash.
const publicColumns = `id, name, email, external_id, is_admin, created_at, updated_at`

type UsersRepo struct {
	db  DB
	obs Observer
	now func() time.Time
}

func NewUsersRepo(db DB, obs Observer) *UsersRepo {
	if obs == nil {
		obs = noopObserver{}
	}
	return &UsersRepo{db: db, obs: obs, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPublicUser(row rowScanner) (user.User, error) {
	var u user.User

	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.ExternalID,
		&u.IsAdmin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

func (r *UsersRepo) Create(ctx context.Context, nu user.NewUser) (user.User, error) {
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

	// local accounts get a random external id so the unique index stays satisfiable
	if u.ExternalID == "" {
		u.ExternalID = uuid.NewString()
	}

	err := r.obs.ObserveDB("users.create", func() error {
		_, err := r.db.Exec(ctx,
			`INSERT INTO users (id, name, email, password_hash, external_id, is_admin, created_at, updated_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)`,
			u.ID, u.Name, u.Email, u.PasswordHash, u.ExternalID, u.IsAdmin, u.CreatedAt, u.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return user.User{}, mapUniqueViolation(err)
	}

	return u, nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User

	err := r.obs.ObserveDB("users.get_by_email", func() error {
		return r.db.QueryRow(ctx,
			`SELECT id, name, email, COALESCE(password_hash, ''), external_id, is_admin, created_at, updated_at
			FROM users
			WHERE email = $1`,
			user.NormalizeEmail(email),
		).Scan(
			&u.ID,
			&u.Name,
			&u.Email,
			&u.PasswordHash,
			&u.ExternalID,
			&u.IsAdmin,
			&u.CreatedAt,
			&u.UpdatedAt,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	if !validID(id) {
		return user.User{}, user.ErrNotFound
	}
	return r.getOne(ctx, "users.get_by_id", `SELECT `+publicColumns+` FROM users WHERE id = $1`, id)
}

func (r *UsersRepo) GetByExternalID(ctx context.Context, externalID string) (user.User, error) {
	return r.getOne(ctx, "users.get_by_external_id", `SELECT `+publicColumns+` FROM users WHERE external_id = $1`, externalID)
}

func (r *UsersRepo) getOne(ctx context.Context, op, query string, arg any) (user.User, error) {
	var u user.User

	err := r.obs.ObserveDB(op, func() error {
		var err error
		u, err = scanPublicUser(r.db.QueryRow(ctx, query, arg))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) List(ctx context.Context) ([]user.User, error) {
	users := []user.User{}

	err := r.obs.ObserveDB("users.list", func() error {
		rows, err := r.db.Query(ctx, `SELECT `+publicColumns+` FROM users ORDER BY created_at ASC, id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			u, err := scanPublicUser(rows)
			if err != nil {
				return err
			}
			users = append(users, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return users, nil
}

func (r *UsersRepo) UpdateProfile(ctx context.Context, id string, upd user.ProfileUpdate) (user.User, error) {
	var email *string
	if upd.Email != nil {
		e := user.NormalizeEmail(*upd.Email)
		email = &e
	}

	return r.update(ctx, "users.update_profile",
		`UPDATE users
		SET name = COALESCE($2, name),
			email = COALESCE($3, email),
			password_hash = COALESCE($4, password_hash),
			updated_at = $5
		WHERE id = $1
		RETURNING `+publicColumns,
		id, upd.Name, email, upd.PasswordHash, r.now().UTC(),
	)
}

func (r *UsersRepo) AdminUpdate(ctx context.Context, id string, upd user.AdminUpdate) (user.User, error) {
	var email *string
	if upd.Email != nil {
		e := user.NormalizeEmail(*upd.Email)
		email = &e
	}

	return r.update(ctx, "users.admin_update",
		`UPDATE users
		SET name = COALESCE($2, name),
			email = COALESCE($3, email),
			is_admin = COALESCE($4, is_admin),
			updated_at = $5
		WHERE id = $1
		RETURNING `+publicColumns,
		id, upd.Name, email, upd.IsAdmin, r.now().UTC(),
	)
}

func (r *UsersRepo) update(ctx context.Context, op, query string, args ...any) (user.User, error) {
	if id, _ := args[0].(string); !validID(id) {
		return user.User{}, user.ErrNotFound
	}

	var u user.User

	err := r.obs.ObserveDB(op, func() error {
		var err error
		u, err = scanPublicUser(r.db.QueryRow(ctx, query, args...))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, mapUniqueViolation(err)
	}

	return u, nil
}

func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return user.ErrNotFound
	}

	var affected int64

	err := r.obs.ObserveDB("users.delete", func() error {
		tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}

	if affected == 0 {
		return user.ErrNotFound
	}
	return nil
}

// validID keeps malformed ids away from the uuid column, which would reject
// them with a cast error instead of no rows.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
