package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notemeter/internal/types"
)

type mockUserService struct {
	createFn        func(ctx context.Context, email, password string) (*types.User, error)
	verifyLoginFn   func(ctx context.Context, email, password string) (*types.User, error)
	deleteByEmailFn func(ctx context.Context, email string) error
}

func (m *mockUserService) Create(ctx context.Context, email, password string) (*types.User, error) {
	return m.createFn(ctx, email, password)
}

func (m *mockUserService) VerifyLogin(ctx context.Context, email, password string) (*types.User, error) {
	return m.verifyLoginFn(ctx, email, password)
}

func (m *mockUserService) DeleteByEmail(ctx context.Context, email string) error {
	return m.deleteByEmailFn(ctx, email)
}

func TestUserHandler_Create(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := &mockUserService{
		createFn: func(_ context.Context, email, password string) (*types.User, error) {
			assert.Equal(t, "a@example.com", email)
			assert.Equal(t, "correct horse", password)
			return &types.User{ID: "u1", Email: email, PasswordHash: "$2a$hash", CreatedAt: created}, nil
		},
	}
	h := NewUserHandler(svc, testValidator(), testLogger())

	rec := serve(h, newRequest(http.MethodPost, "/users", `{"email":"a@example.com","password":"correct horse"}`))

	require.Equal(t, http.StatusCreated, rec.Code)
	got := decodeData[UserResponse](t, rec)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, created, got.CreatedAt)
	assert.NotContains(t, rec.Body.String(), "$2a$hash")
}

func TestUserHandler_Create_Validation(t *testing.T) {
	h := NewUserHandler(&mockUserService{}, testValidator(), testLogger())

	cases := []struct {
		name string
		body string
		code types.ErrorCode
	}{
		{"missing email", `{"password":"correct horse"}`, types.ErrCodeValidationMissingField},
		{"bad email", `{"email":"nope","password":"correct horse"}`, types.ErrCodeValidationInvalidEmail},
		{"short password", `{"email":"a@example.com","password":"short"}`, types.ErrCodeValidationInvalidField},
		{"unknown field", `{"email":"a@example.com","password":"correct horse","admin":true}`, types.ErrCodeValidationInvalidJSON},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h, newRequest(http.MethodPost, "/users", tc.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, string(tc.code), errorCode(t, rec))
		})
	}
}

func TestUserHandler_Create_EmailTaken(t *testing.T) {
	svc := &mockUserService{
		createFn: func(context.Context, string, string) (*types.User, error) {
			return nil, types.NewAppError(types.ErrCodeConflictEmail, "email already registered", nil)
		},
	}
	h := NewUserHandler(svc, testValidator(), testLogger())

	rec := serve(h, newRequest(http.MethodPost, "/users", `{"email":"a@example.com","password":"correct horse"}`))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUserHandler_Login(t *testing.T) {
	svc := &mockUserService{
		verifyLoginFn: func(_ context.Context, email, password string) (*types.User, error) {
			if password != "correct horse" {
				return nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)
			}
			return &types.User{ID: "u1", Email: email}, nil
		},
	}
	h := NewUserHandler(svc, testValidator(), testLogger())

	rec := serve(h, newRequest(http.MethodPost, "/login", `{"email":"a@example.com","password":"correct horse"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", decodeData[UserResponse](t, rec).ID)

	rec = serve(h, newRequest(http.MethodPost, "/login", `{"email":"a@example.com","password":"wrong"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(types.ErrCodeAuthInvalidCreds), errorCode(t, rec))
}

func TestUserHandler_DeleteMe(t *testing.T) {
	var deleted string
	svc := &mockUserService{
		deleteByEmailFn: func(_ context.Context, email string) error {
			deleted = email
			return nil
		},
	}
	h := NewUserHandler(svc, testValidator(), testLogger())

	rec := serve(h, newRequest(http.MethodDelete, "/users/me", ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, deleted)

	rec = serve(h, asUser(newRequest(http.MethodDelete, "/users/me", ""), "u1", "a@example.com"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "a@example.com", deleted)
}
