package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/shopfront/internal/domain/user"
	"github.com/jackc/pgx/v5"
)

type RefreshTokensRepo struct {
	db  DB
	obs Observer
	now func() time.Time
}

func NewRefreshTokensRepo(db DB, obs Observer) *RefreshTokensRepo {
	if obs == nil {
		obs = noopObserver{}
	}
	return &RefreshTokensRepo{db: db, obs: obs, now: time.Now}
}

func (r *RefreshTokensRepo) Create(ctx context.Context, s user.RefreshSession) error {
	return r.obs.ObserveDB("refresh_tokens.create", func() error {
		_, err := r.db.Exec(ctx,
			`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked_at, replaced_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			s.ID, s.UserID, s.TokenHash, s.ExpiresAt, s.RevokedAt, s.ReplacedBy, s.CreatedAt,
		)
		return err
	})
}

// Rotate swaps the session identified by oldID for next inside one
// transaction. The old row is locked so two concurrent refreshes with the
// same token cannot both succeed.
func (r *RefreshTokensRepo) Rotate(ctx context.Context, oldID, presentedHash string, next user.RefreshSession) (user.RefreshSession, error) {
	var old user.RefreshSession

	err := r.obs.ObserveDB("refresh_tokens.rotate", func() error {
		tx, err := r.db.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		old, err = r.getForUpdate(ctx, tx, oldID)
		if err != nil {
			return err
		}

		if err := r.checkUsable(old, presentedHash); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE refresh_tokens SET revoked_at = $2, replaced_by = $3 WHERE id = $1`,
			old.ID, r.now().UTC(), next.ID,
		); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked_at, replaced_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			next.ID, next.UserID, next.TokenHash, next.ExpiresAt, next.RevokedAt, next.ReplacedBy, next.CreatedAt,
		); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})

	if err != nil {
		return user.RefreshSession{}, err
	}
	return old, nil
}

func (r *RefreshTokensRepo) checkUsable(s user.RefreshSession, presentedHash string) error {
	if s.Revoked() {
		return user.ErrSessionRevoked
	}
	if r.now().UTC().After(s.ExpiresAt) {
		return user.ErrSessionExpired
	}
	// prevents substituting a different token that happens to carry the same jti
	if s.TokenHash != presentedHash {
		return user.ErrSessionMismatch
	}
	return nil
}

func (r *RefreshTokensRepo) getForUpdate(ctx context.Context, tx pgx.Tx, id string) (user.RefreshSession, error) {
	var s user.RefreshSession

	err := tx.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, revoked_at, replaced_by, created_at
		FROM refresh_tokens
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(
		&s.ID,
		&s.UserID,
		&s.TokenHash,
		&s.ExpiresAt,
		&s.RevokedAt,
		&s.ReplacedBy,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.RefreshSession{}, user.ErrSessionNotFound
		}
		return user.RefreshSession{}, err
	}

	return s, nil
}

// Revoke is idempotent: revoking an unknown or already revoked session is not an error.
func (r *RefreshTokensRepo) Revoke(ctx context.Context, id string) error {
	return r.obs.ObserveDB("refresh_tokens.revoke", func() error {
		_, err := r.db.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = $2
			WHERE id = $1 AND revoked_at IS NULL
		`, id, r.now().UTC())
		return err
	})
}

func (r *RefreshTokensRepo) RevokeAllForUser(ctx context.Context, userID string) error {
	return r.obs.ObserveDB("refresh_tokens.revoke_all", func() error {
		_, err := r.db.Exec(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = $2
			WHERE user_id = $1 AND revoked_at IS NULL
		`, userID, r.now().UTC())
		return err
	})
}

func (r *RefreshTokensRepo) DeleteExpired(ctx context.Context) (int64, error) {
	var n int64

	err := r.obs.ObserveDB("refresh_tokens.delete_expired", func() error {
		tag, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, r.now().UTC())
		n = tag.RowsAffected()
		return err
	})

	return n, err
}
