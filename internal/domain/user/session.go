package user

import "time"

// RefreshSession is the persisted record behind an issued refresh token.
type RefreshSession struct {
	ID         string // jti of the refresh token
	UserID     string
	TokenHash  string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *string
	CreatedAt  time.Time
}

func (s RefreshSession) Revoked() bool {
	return s.RevokedAt != nil
}
