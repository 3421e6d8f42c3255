package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrNoPassword is returned when the account was created through an
// identity provider and has no local password.
var ErrNoPassword = errors.New("account has no password")

// Cost 10 keeps hashes compatible with accounts imported from the previous backend.
const hashCost = 10

// HashPassword hashes a plain text password with bcrypt.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), hashCost)

	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// CheckPassword compares a bcrypt hash with a plaintext password.
func CheckPassword(hash, plain string) error {
	if hash == "" {
		return ErrNoPassword
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}
