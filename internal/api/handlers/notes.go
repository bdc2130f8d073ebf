package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"notemeter/internal/billing"
	"notemeter/internal/core"
	"notemeter/internal/types"
)

// NoteService is the note surface used by NoteHandler. *notes.Service
// satisfies it.
type NoteService interface {
	CanCreate(ctx context.Context, userID string) (billing.Answer, error)
	CanEdit(ctx context.Context, userID, id string) (*types.Note, billing.Answer, error)
	Create(ctx context.Context, userID, title, body string) (*types.Note, error)
	Edit(ctx context.Context, userID, id, title, body string) (*types.Note, error)
	Get(ctx context.Context, userID, id string) (*types.Note, error)
	List(ctx context.Context, userID string) ([]types.NoteListItem, error)
	Delete(ctx context.Context, userID, id string) error
}

// NoteRequest is the body of POST /v1/notes and PUT /v1/notes/{id}.
type NoteRequest struct {
	Title string `json:"title" validate:"required,max=200"`
	Body  string `json:"body" validate:"max=100000"`
}

// GateResponse tells a form whether the action it leads to is allowed. A
// denied gate is a normal 200 so the client can show an upgrade prompt.
type GateResponse struct {
	Allowed bool              `json:"allowed"`
	Feature types.FeatureName `json:"feature"`
	Used    int64             `json:"used"`
	Limit   int64             `json:"limit"`
}

func newGateResponse(a billing.Answer) GateResponse {
	return GateResponse{Allowed: a.OK, Feature: a.Feature, Used: a.Used, Limit: a.Limit}
}

// NoteListResponse is the body of GET /v1/notes.
type NoteListResponse struct {
	Notes []types.NoteListItem `json:"notes"`
}

// EditFormResponse is the body of GET /v1/notes/{id}/edit.
type EditFormResponse struct {
	Note *types.Note  `json:"note"`
	Gate GateResponse `json:"gate"`
}

// NoteHandler serves the notes of the signed-in user.
type NoteHandler struct {
	notes     NoteService
	validator *core.Validator
	logger    *slog.Logger
}

// NewNoteHandler creates a NoteHandler.
func NewNoteHandler(notes NoteService, v *core.Validator, l *slog.Logger) *NoteHandler {
	if l == nil {
		l = slog.Default()
	}
	return &NoteHandler{notes: notes, validator: v, logger: l}
}

// RegisterRoutes mounts the note routes on r. Every route requires a user.
func (h *NoteHandler) RegisterRoutes(r chi.Router) {
	r.Route("/notes", func(r chi.Router) {
		r.Use(core.RequireUser)

		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/new", h.NewForm)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
			r.Get("/edit", h.EditForm)
		})
	})
}

// List handles GET /v1/notes.
func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	items, err := h.notes.List(r.Context(), actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, NoteListResponse{Notes: items})
}

// NewForm handles GET /v1/notes/new.
func (h *NoteHandler) NewForm(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	answer, err := h.notes.CanCreate(r.Context(), actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, newGateResponse(answer))
}

// Create handles POST /v1/notes. Over the note limit it answers 402
// plan_limit.
func (h *NoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	var req NoteRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	note, err := h.notes.Create(r.Context(), actor.UserID, req.Title, req.Body)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusCreated, note)
}

// Get handles GET /v1/notes/{id}.
func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	note, err := h.notes.Get(r.Context(), actor.UserID, chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, note)
}

// EditForm handles GET /v1/notes/{id}/edit.
func (h *NoteHandler) EditForm(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	note, answer, err := h.notes.CanEdit(r.Context(), actor.UserID, chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, EditFormResponse{Note: note, Gate: newGateResponse(answer)})
}

// Update handles PUT /v1/notes/{id}. Each successful update counts as one
// edit.
func (h *NoteHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	var req NoteRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	note, err := h.notes.Edit(r.Context(), actor.UserID, chi.URLParam(r, "id"), req.Title, req.Body)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, note)
}

// Delete handles DELETE /v1/notes/{id}.
func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	if err := h.notes.Delete(r.Context(), actor.UserID, chi.URLParam(r, "id")); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
