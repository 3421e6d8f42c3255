package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/shopfront/internal/domain/user"
	"github.com/geocoder89/shopfront/internal/http/middlewares"
	"github.com/geocoder89/shopfront/internal/security"
	"github.com/gin-gonic/gin"
)

type UserAdminStore interface {
	GetByID(ctx context.Context, id string) (user.User, error)
	List(ctx context.Context) ([]user.User, error)
	UpdateProfile(ctx context.Context, id string, upd user.ProfileUpdate) (user.User, error)
	AdminUpdate(ctx context.Context, id string, upd user.AdminUpdate) (user.User, error)
	Delete(ctx context.Context, id string) error
}

type SessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID string) error
}

type UsersHandler struct {
	users    UserAdminStore
	sessions SessionRevoker
}

func NewUsersHandler(users UserAdminStore, sessions SessionRevoker) *UsersHandler {
	return &UsersHandler{users: users, sessions: sessions}
}

func (h *UsersHandler) GetProfile(ctx *gin.Context) {
	u, ok := middlewares.UserFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity context")
		return
	}

	respondWithETag(ctx, u)
}

func (h *UsersHandler) UpdateProfile(ctx *gin.Context) {
	current, ok := middlewares.UserFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity context")
		return
	}

	var req user.UpdateProfileRequest

	if !BindJSON(ctx, &req) {
		return
	}

	upd := user.ProfileUpdate{Name: req.Name, Email: req.Email}

	if req.Password != nil {
		hash, err := security.HashPassword(*req.Password)
		if err != nil {
			RespondInternal(ctx, "Could not update profile")
			return
		}
		upd.PasswordHash = &hash
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	u, err := h.users.UpdateProfile(cctx, current.ID, upd)
	if err != nil {
		h.respondStoreError(ctx, err, "Could not update profile")
		return
	}

	ctx.JSON(http.StatusOK, u)
}

// Admin endpoints

func (h *UsersHandler) ListUsers(ctx *gin.Context) {
	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	users, err := h.users.List(cctx)
	if err != nil {
		h.respondStoreError(ctx, err, "Could not list users")
		return
	}

	respondWithETag(ctx, gin.H{"items": users, "count": len(users)})
}

func (h *UsersHandler) GetUser(ctx *gin.Context) {
	cctx, cancel := requestContext(ctx, 2*time.Second)
	defer cancel()

	u, err := h.users.GetByID(cctx, ctx.Param("id"))
	if err != nil {
		h.respondStoreError(ctx, err, "Could not load user")
		return
	}

	respondWithETag(ctx, u)
}

func (h *UsersHandler) UpdateUser(ctx *gin.Context) {
	var req user.AdminUpdateUserRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	u, err := h.users.AdminUpdate(cctx, ctx.Param("id"), user.AdminUpdate{
		Name:    req.Name,
		Email:   req.Email,
		IsAdmin: req.IsAdmin,
	})
	if err != nil {
		h.respondStoreError(ctx, err, "Could not update user")
		return
	}

	ctx.JSON(http.StatusOK, u)
}

func (h *UsersHandler) DeleteUser(ctx *gin.Context) {
	id := ctx.Param("id")

	if current, ok := middlewares.UserFromContext(ctx); ok && current.ID == id {
		RespondBadRequest(ctx, "Admins cannot delete their own account", nil)
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	if err := h.sessions.RevokeAllForUser(cctx, id); err != nil {
		slog.Default().WarnContext(ctx.Request.Context(), "delete_user_revoke_sessions_failed", "user_id", id, "err", err)
	}

	if err := h.users.Delete(cctx, id); err != nil {
		h.respondStoreError(ctx, err, "Could not delete user")
		return
	}

	ctx.Status(http.StatusNoContent)
}

func (h *UsersHandler) respondStoreError(ctx *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, user.ErrNotFound):
		RespondNotFound(ctx, "User not found")
	case errors.Is(err, user.ErrEmailTaken):
		RespondConflict(ctx, "email_taken", "Email is already in use.")
	default:
		slog.Default().ErrorContext(ctx.Request.Context(), "user_store_failed", "err", err)
		RespondInternal(ctx, fallback)
	}
}
