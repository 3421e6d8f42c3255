// Package revocation keeps the set of bearer tokens that were invalidated
// before their natural expiry. Entries live only as long as the token would
// have, so the set stays bounded.
package revocation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// List is consulted before honoring any token.
type List interface {
	// Revoke marks token as unacceptable until expiresAt. Revoking twice is a no-op.
	Revoke(ctx context.Context, token string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// fingerprint keeps raw bearer tokens out of the store.
func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
