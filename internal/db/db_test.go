package db

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/geocoder89/shopfront/internal/config"
	"github.com/geocoder89/shopfront/internal/db/migrations"
	"github.com/geocoder89/shopfront/internal/domain/user"
	"github.com/geocoder89/shopfront/internal/repo/memory"
	"github.com/geocoder89/shopfront/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_DeclareUniqueConstraints(t *testing.T) {
	files, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.Len(t, files, 2)

	users, err := fs.ReadFile(migrations.FS, "00001_create_users.sql")
	require.NoError(t, err)

	// the repository maps unique violations by these names
	assert.Contains(t, string(users), "CONSTRAINT users_email_key UNIQUE (email)")
	assert.Contains(t, string(users), "CONSTRAINT users_external_id_key UNIQUE (external_id)")

	for _, f := range files {
		b, err := fs.ReadFile(migrations.FS, f)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(b), "-- +goose Up"), f)
	}
}

func TestMigrate_RunsGooseFromEmbeddedRoot(t *testing.T) {
	orig := gooseUp
	t.Cleanup(func() { gooseUp = orig })

	var gotDir string
	gooseUp = func(_ context.Context, _ *sql.DB, dir string) error {
		gotDir = dir
		return errors.New("stop")
	}

	err := Migrate(context.Background(), "postgres://u:p@127.0.0.1:1/db?sslmode=disable")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "run migrations")
	assert.Equal(t, ".", gotDir)
}

func TestEnsureAdminUser(t *testing.T) {
	ctx := context.Background()
	users := memory.NewUsersRepo()
	cfg := config.Config{AdminEmail: "Admin@Shop.test", AdminPassword: "s3cret!", AdminName: "Admin"}

	created, err := EnsureAdminUser(ctx, users, cfg)
	require.NoError(t, err)
	assert.True(t, created)

	u, err := users.GetByEmail(ctx, "admin@shop.test")
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)
	assert.NoError(t, security.CheckPassword(u.PasswordHash, "s3cret!"))

	created, err = EnsureAdminUser(ctx, users, cfg)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEnsureAdminUser_Disabled(t *testing.T) {
	created, err := EnsureAdminUser(context.Background(), failingSeeder{}, config.Config{})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEnsureAdminUser_LookupError(t *testing.T) {
	cfg := config.Config{AdminEmail: "a@b.c", AdminPassword: "x"}
	_, err := EnsureAdminUser(context.Background(), failingSeeder{}, cfg)
	assert.Error(t, err)
}

type failingSeeder struct{}

func (failingSeeder) GetByEmail(context.Context, string) (user.User, error) {
	return user.User{}, errors.New("db down")
}

func (failingSeeder) Create(context.Context, user.NewUser) (user.User, error) {
	return user.User{}, errors.New("db down")
}
