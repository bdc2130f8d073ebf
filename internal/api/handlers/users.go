// Package handlers contains the HTTP handlers for the notemeter API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"notemeter/internal/core"
	"notemeter/internal/types"
)

// UserService is the account surface used by UserHandler. *users.Service
// satisfies it.
type UserService interface {
	Create(ctx context.Context, email, password string) (*types.User, error)
	VerifyLogin(ctx context.Context, email, password string) (*types.User, error)
	DeleteByEmail(ctx context.Context, email string) error
}

// CreateUserRequest is the body of POST /v1/users.
type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest is the body of POST /v1/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UserResponse is the public projection of a user.
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func newUserResponse(u *types.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}

// UserHandler serves signup, login and account deletion.
type UserHandler struct {
	users     UserService
	validator *core.Validator
	logger    *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users UserService, v *core.Validator, l *slog.Logger) *UserHandler {
	if l == nil {
		l = slog.Default()
	}
	return &UserHandler{users: users, validator: v, logger: l}
}

// RegisterRoutes mounts the user routes on r.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Post("/users", h.Create)
	r.Post("/login", h.Login)
	r.With(core.RequireUser).Delete("/users/me", h.DeleteMe)
}

// Create handles POST /v1/users. The new user is enrolled in the free plan
// before the response is written.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	user, err := h.users.Create(r.Context(), req.Email, req.Password)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusCreated, newUserResponse(user))
}

// Login handles POST /v1/login. The returned id is what clients send as
// X-User-Id.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	user, err := h.users.VerifyLogin(r.Context(), req.Email, req.Password)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, newUserResponse(user))
}

// DeleteMe handles DELETE /v1/users/me.
func (h *UserHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	if err := h.users.DeleteByEmail(r.Context(), actor.Email); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
