package db

import (
	"context"
	"errors"

	"github.com/geocoder89/shopfront/internal/config"
	"github.com/geocoder89/shopfront/internal/domain/user"
	"github.com/geocoder89/shopfront/internal/security"
)

type AdminSeeder interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	Create(ctx context.Context, nu user.NewUser) (user.User, error)
}

// EnsureAdminUser creates the configured admin account when it does not exist yet.
// An existing account with that email is left untouched.
func EnsureAdminUser(ctx context.Context, users AdminSeeder, cfg config.Config) (bool, error) {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return false, nil
	}

	_, err := users.GetByEmail(ctx, cfg.AdminEmail)

	if err == nil {
		return false, nil
	}

	if !errors.Is(err, user.ErrNotFound) {
		return false, err
	}

	hash, err := security.HashPassword(cfg.AdminPassword)

	if err != nil {
		return false, err
	}

	_, err = users.Create(ctx, user.NewUser{
		Name:         cfg.AdminName,
		Email:        cfg.AdminEmail,
		PasswordHash: hash,
		IsAdmin:      true,
	})

	// another instance seeded it first
	if errors.Is(err, user.ErrEmailTaken) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}
