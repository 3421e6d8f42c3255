package user

import (
	"strings"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // never expose hash in JSON
	ExternalID   string    `json:"-"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasPassword is false for accounts created through an identity provider.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

// WithoutSecret returns a copy safe to attach to a request.
func (u User) WithoutSecret() User {
	u.PasswordHash = ""
	return u
}

// NewUser is the input for persisting an account. ExternalID may be empty,
// in which case the store generates a random one.
type NewUser struct {
	Name         string
	Email        string
	PasswordHash string
	ExternalID   string
	IsAdmin      bool
}

type ProfileUpdate struct {
	Name         *string
	Email        *string
	PasswordHash *string
}

type AdminUpdate struct {
	Name    *string
	Email   *string
	IsAdmin *bool
}

type RegisterRequest struct {
	Name     string `json:"name" binding:"required,max=120"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type GoogleLoginRequest struct {
	Token string `json:"token" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type UpdateProfileRequest struct {
	Name     *string `json:"name" binding:"omitempty,min=1,max=120"`
	Email    *string `json:"email" binding:"omitempty,email"`
	Password *string `json:"password" binding:"omitempty,min=6,max=72"`
}

type AdminUpdateUserRequest struct {
	Name    *string `json:"name" binding:"omitempty,min=1,max=120"`
	Email   *string `json:"email" binding:"omitempty,email"`
	IsAdmin *bool   `json:"isAdmin"`
}

// NormalizeEmail is applied before every write and lookup so the unique
// index compares addresses case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
