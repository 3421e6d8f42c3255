package middlewares

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/geocoder89/shopfront/internal/actorctx"
	"github.com/geocoder89/shopfront/internal/auth"
	"github.com/geocoder89/shopfront/internal/domain/user"
	"github.com/geocoder89/shopfront/internal/revocation"
	"github.com/gin-gonic/gin"
)

// Keep these small interfaces so tests can fake them easily.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*auth.Claims, error)
}

type UserLoader interface {
	GetByID(ctx context.Context, id string) (user.User, error)
}

type RejectionRecorder interface {
	AuthRejected(reason string)
}

// Rejection reasons, logged and counted but never sent to the client.
const (
	ReasonNoToken               = "no_token"
	ReasonRevoked               = "revoked"
	ReasonExpired               = "expired"
	ReasonInvalid               = "invalid"
	ReasonUserNotFound          = "user_not_found"
	ReasonForbidden             = "forbidden"
	ReasonRevocationUnavailable = "revocation_unavailable"
)

type AuthMiddleware struct {
	jwt             TokenVerifier
	users           UserLoader
	revoked         revocation.List
	checkRevocation bool
	metrics         RejectionRecorder
	lookupTimeout   time.Duration
}

// NewAuthMiddleware builds the bearer-token gate. With checkRevocation set,
// every token is looked up in revoked before it is verified.
func NewAuthMiddleware(jwt TokenVerifier, users UserLoader, revoked revocation.List, checkRevocation bool) *AuthMiddleware {
	return &AuthMiddleware{
		jwt:             jwt,
		users:           users,
		revoked:         revoked,
		checkRevocation: checkRevocation && revoked != nil,
		lookupTimeout:   2 * time.Second,
	}
}

func (m *AuthMiddleware) WithMetrics(r RejectionRecorder) *AuthMiddleware {
	m.metrics = r
	return m
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			m.reject(c, http.StatusUnauthorized, ReasonNoToken, nil, "Missing or invalid Authorization header")
			return
		}

		reqCtx := c.Request.Context()

		if m.checkRevocation {
			revoked, err := m.revoked.IsRevoked(reqCtx, raw)
			if err != nil {
				// fail closed: an unknown revocation state is not a valid session
				m.reject(c, http.StatusServiceUnavailable, ReasonRevocationUnavailable, err, "Authentication temporarily unavailable")
				return
			}
			if revoked {
				m.reject(c, http.StatusUnauthorized, ReasonRevoked, nil, "Invalid or expired access token")
				return
			}
		}

		claims, err := m.jwt.VerifyAccessToken(raw)
		if err != nil {
			reason := ReasonInvalid
			if errors.Is(err, auth.ErrTokenExpired) {
				reason = ReasonExpired
			}
			m.reject(c, http.StatusUnauthorized, reason, err, "Invalid or expired access token")
			return
		}

		lookupCtx, cancel := context.WithTimeout(reqCtx, m.lookupTimeout)
		defer cancel()

		u, err := m.users.GetByID(lookupCtx, claims.UserID)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				m.reject(c, http.StatusUnauthorized, ReasonUserNotFound, nil, "Invalid or expired access token")
				return
			}
			slog.Default().ErrorContext(reqCtx, "auth_user_lookup_failed", "user_id", claims.UserID, "err", err)
			abortWithError(c, http.StatusInternalServerError, "internal_error", "Could not load user")
			return
		}

		// Stash useful bits of identity on the context
		c.Set(CtxUserID, u.ID)
		c.Set(CtxAccessToken, raw)
		c.Set(CtxAccessClaims, claims)
		c.Request = c.Request.WithContext(actorctx.WithUser(reqCtx, u))

		c.Next()
	}
}

func (m *AuthMiddleware) reject(c *gin.Context, status int, reason string, err error, message string) {
	c.Set(CtxAuthReason, reason)
	if m.metrics != nil {
		m.metrics.AuthRejected(reason)
	}

	attrs := []any{"reason", reason, "path", c.Request.URL.Path, "request_id", c.GetString(CtxRequestID)}
	if err != nil {
		attrs = append(attrs, "err", err)
	}
	slog.Default().InfoContext(c.Request.Context(), "auth_rejected", attrs...)

	code := "unauthorized"
	switch status {
	case http.StatusForbidden:
		code = "forbidden"
	case http.StatusServiceUnavailable:
		code = "unavailable"
	}
	abortWithError(c, status, code, message)
}

// bearerToken extracts the credential from "Bearer <token>". The scheme is
// case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

// Optional helpers so handlers don't need to know the magic keys.

func UserFromContext(c *gin.Context) (user.User, bool) {
	return actorctx.UserFrom(c.Request.Context())
}

func UserIDFromContext(c *gin.Context) (string, bool) {
	id := c.GetString(CtxUserID)
	return id, id != ""
}

// AccessTokenFromContext returns the raw bearer token and its claims for the
// current authenticated request.
func AccessTokenFromContext(c *gin.Context) (string, *auth.Claims, bool) {
	raw := c.GetString(CtxAccessToken)
	v, ok := c.Get(CtxAccessClaims)
	if !ok || raw == "" {
		return "", nil, false
	}
	claims, ok := v.(*auth.Claims)
	return raw, claims, ok
}
