package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/shopfront/internal/auth"
	"github.com/geocoder89/shopfront/internal/config"
	"github.com/geocoder89/shopfront/internal/domain/user"
	"github.com/geocoder89/shopfront/internal/http/middlewares"
	"github.com/geocoder89/shopfront/internal/oauth"
	"github.com/geocoder89/shopfront/internal/revocation"
	"github.com/geocoder89/shopfront/internal/security"
	"github.com/gin-gonic/gin"
)

const (
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/api/users"
	stateCookieName   = "oauth_state"
	stateCookiePath   = "/auth/google"
	stateCookieTTL    = 10 * time.Minute
)

type UserStore interface {
	Create(ctx context.Context, nu user.NewUser) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	GetByExternalID(ctx context.Context, externalID string) (user.User, error)
}

type SessionStore interface {
	Create(ctx context.Context, s user.RefreshSession) error
	Rotate(ctx context.Context, oldID, presentedHash string, next user.RefreshSession) (user.RefreshSession, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

// GoogleIdentity resolves Google credentials into a profile.
type GoogleIdentity interface {
	ConsentURL(state string) string
	ExchangeCode(ctx context.Context, code string) (oauth.Profile, error)
	ProfileFromAccessToken(ctx context.Context, accessToken string) (oauth.Profile, error)
}

type AuthMetrics interface {
	TokenIssued(typ, flow string)
	TokenRevoked(typ string)
}

type noopAuthMetrics struct{}

func (noopAuthMetrics) TokenIssued(string, string) {}
func (noopAuthMetrics) TokenRevoked(string)        {}

type AuthHandler struct {
	users    UserStore
	sessions SessionStore
	jwt      *auth.Manager
	revoked  revocation.List
	google   GoogleIdentity
	metrics  AuthMetrics
	cfg      config.Config
}

// NewAuthHandler wires the account endpoints. google may be nil when no
// client credentials are configured.
func NewAuthHandler(users UserStore, sessions SessionStore, jwtManager *auth.Manager, revoked revocation.List, google GoogleIdentity, cfg config.Config) *AuthHandler {
	return &AuthHandler{
		users:    users,
		sessions: sessions,
		jwt:      jwtManager,
		revoked:  revoked,
		google:   google,
		metrics:  noopAuthMetrics{},
		cfg:      cfg,
	}
}

func (h *AuthHandler) WithMetrics(m AuthMetrics) *AuthHandler {
	if m != nil {
		h.metrics = m
	}
	return h
}

type authResponse struct {
	User        user.User `json:"user"`
	AccessToken string    `json:"accessToken"`
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req user.RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	u, err := h.users.Create(cctx, user.NewUser{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
	})

	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			RespondConflict(ctx, "email_taken", "Email is already in use.")
			return
		}

		slog.Default().ErrorContext(ctx.Request.Context(), "register_failed", "err", err)
		RespondInternal(ctx, "Could not create user")
		return
	}

	h.startSession(ctx, u.WithoutSecret(), "register", http.StatusCreated)
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req user.LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := requestContext(ctx, 2*time.Second)
	defer cancel()

	found, err := h.users.GetByEmail(cctx, req.Email)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			slog.Default().ErrorContext(ctx.Request.Context(), "login_lookup_failed", "err", err)
			RespondInternal(ctx, "Could not log in")
			return
		}
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	// also fails for provider-only accounts, which have no password
	if err := security.CheckPassword(found.PasswordHash, req.Password); err != nil {
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	h.startSession(ctx, found.WithoutSecret(), "password", http.StatusOK)
}

// GoogleLogin exchanges a Google access token obtained by the client.
func (h *AuthHandler) GoogleLogin(ctx *gin.Context) {
	if h.google == nil {
		RespondUnavailable(ctx, "oauth_disabled", "Google sign-in is not configured.")
		return
	}

	var req user.GoogleLoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := requestContext(ctx, 5*time.Second)
	defer cancel()

	profile, err := h.google.ProfileFromAccessToken(cctx, req.Token)
	if err != nil {
		h.respondProviderError(ctx, err)
		return
	}

	h.completeExternalLogin(ctx, profile)
}

// GoogleConsent starts the redirect flow.
func (h *AuthHandler) GoogleConsent(ctx *gin.Context) {
	if h.google == nil {
		RespondUnavailable(ctx, "oauth_disabled", "Google sign-in is not configured.")
		return
	}

	state, err := oauth.GenerateState()
	if err != nil {
		RespondInternal(ctx, "Could not start sign-in")
		return
	}

	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(stateCookieName, state, int(stateCookieTTL.Seconds()), stateCookiePath, "", h.cfg.IsProd(), true)

	ctx.Redirect(http.StatusFound, h.google.ConsentURL(state))
}

func (h *AuthHandler) GoogleCallback(ctx *gin.Context) {
	if h.google == nil {
		RespondUnavailable(ctx, "oauth_disabled", "Google sign-in is not configured.")
		return
	}

	expected, _ := ctx.Cookie(stateCookieName)

	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(stateCookieName, "", -1, stateCookiePath, "", h.cfg.IsProd(), true)

	if expected == "" || ctx.Query("state") != expected {
		RespondBadRequest(ctx, "Invalid OAuth state", nil)
		return
	}

	code := ctx.Query("code")
	if code == "" {
		RespondBadRequest(ctx, "Missing authorization code", gin.H{"error": ctx.Query("error")})
		return
	}

	cctx, cancel := requestContext(ctx, 5*time.Second)
	defer cancel()

	profile, err := h.google.ExchangeCode(cctx, code)
	if err != nil {
		h.respondProviderError(ctx, err)
		return
	}

	h.completeExternalLogin(ctx, profile)
}

func (h *AuthHandler) respondProviderError(ctx *gin.Context, err error) {
	if errors.Is(err, oauth.ErrInvalidAssertion) {
		RespondUnAuthorized(ctx, "invalid_google_token", "Google sign-in failed.")
		return
	}

	slog.Default().ErrorContext(ctx.Request.Context(), "google_profile_failed", "err", err)
	RespondError(ctx, http.StatusBadGateway, "provider_unavailable", "Google sign-in is temporarily unavailable.", nil)
}

func (h *AuthHandler) completeExternalLogin(ctx *gin.Context, profile oauth.Profile) {
	if !profile.EmailVerified {
		RespondForbidden(ctx, "email_unverified", "Google account email is not verified.")
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	u, created, err := auth.ResolveExternalIdentity(cctx, h.users, auth.ExternalIdentity{
		Subject: profile.Subject,
		Name:    profile.Name,
		Email:   profile.Email,
	})
	if err != nil {
		if errors.Is(err, auth.ErrEmailConflict) {
			RespondConflict(ctx, "email_conflict", "Email is already registered with a password. Log in with your password instead.")
			return
		}

		slog.Default().ErrorContext(ctx.Request.Context(), "external_identity_failed", "err", err)
		RespondInternal(ctx, "Could not sign in")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.startSession(ctx, u, "google", status)
}

// Refresh exchanges a refresh token for a new access token and rotates the
// refresh token. Presenting an already rotated token revokes every session of
// that user.
func (h *AuthHandler) Refresh(ctx *gin.Context) {
	raw := h.presentedRefreshToken(ctx)

	if raw == "" {
		RespondUnAuthorized(ctx, "no_refresh", "Missing refresh token")
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(raw)

	if err != nil {
		slog.Default().InfoContext(ctx.Request.Context(), "refresh_rejected", "reason", "verify", "err", err)
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	revoked, err := h.revoked.IsRevoked(cctx, raw)
	if err != nil {
		RespondUnavailable(ctx, "unavailable", "Authentication temporarily unavailable")
		return
	}
	if revoked {
		h.respondRotateError(ctx, cctx, claims, user.ErrSessionRevoked)
		return
	}

	u, err := h.users.GetByID(cctx, claims.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
			return
		}
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	next, err := h.jwt.IssueRefreshToken(claims.UserID)
	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	_, err = h.sessions.Rotate(cctx, claims.ID, h.jwt.HashRefreshToken(raw), h.sessionFor(claims.UserID, next))
	if err != nil {
		h.respondRotateError(ctx, cctx, claims, err)
		return
	}

	if err := h.revoked.Revoke(cctx, raw, claims.ExpiresAtTime()); err != nil {
		// the session row is already revoked, so the old token cannot be replayed
		slog.Default().WarnContext(ctx.Request.Context(), "refresh_revoke_failed", "err", err)
	} else {
		h.metrics.TokenRevoked(auth.TokenTypeRefresh)
	}

	access, err := h.jwt.IssueAccessToken(claims.UserID)
	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	h.metrics.TokenIssued(auth.TokenTypeAccess, "refresh")
	h.metrics.TokenIssued(auth.TokenTypeRefresh, "refresh")
	h.setRefreshCookie(ctx, next.Raw, next.ExpiresAt)

	ctx.JSON(http.StatusOK, authResponse{User: u, AccessToken: access.Raw})
}

func (h *AuthHandler) respondRotateError(ctx *gin.Context, cctx context.Context, claims *auth.Claims, err error) {
	switch {
	case errors.Is(err, user.ErrSessionRevoked):
		// reuse of a rotated token: assume it was stolen
		slog.Default().WarnContext(ctx.Request.Context(), "refresh_reuse_detected", "user_id", claims.UserID, "jti", claims.ID)
		if rerr := h.sessions.RevokeAllForUser(cctx, claims.UserID); rerr != nil {
			slog.Default().ErrorContext(ctx.Request.Context(), "revoke_all_sessions_failed", "user_id", claims.UserID, "err", rerr)
		}
		h.clearRefreshCookie(ctx)
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
	case errors.Is(err, user.ErrSessionNotFound),
		errors.Is(err, user.ErrSessionExpired),
		errors.Is(err, user.ErrSessionMismatch):
		slog.Default().InfoContext(ctx.Request.Context(), "refresh_rejected", "reason", err.Error(), "jti", claims.ID)
		h.clearRefreshCookie(ctx)
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
	default:
		slog.Default().ErrorContext(ctx.Request.Context(), "refresh_rotate_failed", "err", err)
		RespondInternal(ctx, "Could not refresh session")
	}
}

// Logout revokes the presented access token and, when one is supplied, the
// refresh session of the same user.
func (h *AuthHandler) Logout(ctx *gin.Context) {
	rawAccess, accessClaims, ok := middlewares.AccessTokenFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity context")
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	if err := h.revoked.Revoke(cctx, rawAccess, accessClaims.ExpiresAtTime()); err != nil {
		slog.Default().ErrorContext(ctx.Request.Context(), "logout_revoke_failed", "err", err)
		RespondUnavailable(ctx, "unavailable", "Could not log out, try again")
		return
	}
	h.metrics.TokenRevoked(auth.TokenTypeAccess)

	if rawRefresh := h.presentedRefreshToken(ctx); rawRefresh != "" {
		h.endRefreshSession(ctx, cctx, rawRefresh, accessClaims.UserID)
	}

	h.clearRefreshCookie(ctx)
	ctx.Status(http.StatusNoContent)
}

func (h *AuthHandler) endRefreshSession(ctx *gin.Context, cctx context.Context, raw, userID string) {
	claims, err := h.jwt.VerifyRefreshToken(raw)
	if err != nil || claims.UserID != userID {
		return
	}

	if err := h.sessions.Revoke(cctx, claims.ID); err != nil {
		slog.Default().WarnContext(ctx.Request.Context(), "logout_session_revoke_failed", "err", err)
	}
	if err := h.revoked.Revoke(cctx, raw, claims.ExpiresAtTime()); err == nil {
		h.metrics.TokenRevoked(auth.TokenTypeRefresh)
	}
}

// Helper functions

// startSession issues both tokens, persists the refresh session and writes the response.
func (h *AuthHandler) startSession(ctx *gin.Context, u user.User, flow string, status int) {
	access, err := h.jwt.IssueAccessToken(u.ID)
	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	refresh, err := h.jwt.IssueRefreshToken(u.ID)
	if err != nil {
		RespondInternal(ctx, "Could not generate refresh token")
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	if err := h.sessions.Create(cctx, h.sessionFor(u.ID, refresh)); err != nil {
		slog.Default().ErrorContext(ctx.Request.Context(), "session_create_failed", "err", err)
		RespondInternal(ctx, "Could not create session")
		return
	}

	h.metrics.TokenIssued(auth.TokenTypeAccess, flow)
	h.metrics.TokenIssued(auth.TokenTypeRefresh, flow)
	h.setRefreshCookie(ctx, refresh.Raw, refresh.ExpiresAt)

	ctx.JSON(status, authResponse{User: u, AccessToken: access.Raw})
}

func (h *AuthHandler) sessionFor(userID string, t auth.IssuedToken) user.RefreshSession {
	return user.RefreshSession{
		ID:        t.ID,
		UserID:    userID,
		TokenHash: h.jwt.HashRefreshToken(t.Raw),
		ExpiresAt: t.ExpiresAt,
		CreatedAt: time.Now().UTC(),
	}
}

// presentedRefreshToken prefers the cookie and falls back to the JSON body
// for clients that cannot hold cookies.
func (h *AuthHandler) presentedRefreshToken(ctx *gin.Context) string {
	if raw, err := ctx.Cookie(refreshCookieName); err == nil && raw != "" {
		return raw
	}

	if ctx.Request.ContentLength == 0 {
		return ""
	}

	var req user.RefreshRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		return ""
	}
	return req.RefreshToken
}

func (h *AuthHandler) setRefreshCookie(ctx *gin.Context, raw string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())

	ctx.SetSameSite(http.SameSiteStrictMode)

	ctx.SetCookie(
		refreshCookieName,
		raw,
		maxAge,
		refreshCookiePath,
		"",
		h.cfg.IsProd(),
		true, // HttpOnly.
	)
}

func (h *AuthHandler) clearRefreshCookie(ctx *gin.Context) {
	ctx.SetSameSite(http.SameSiteStrictMode)
	ctx.SetCookie(refreshCookieName, "", -1, refreshCookiePath, "", h.cfg.IsProd(), true)
}
