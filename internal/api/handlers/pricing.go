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

// PricingService is the catalog surface used by PricingHandler.
// *billing.PricingService satisfies it.
type PricingService interface {
	View(ctx context.Context, subject *types.Subject) (*billing.PricingPage, error)
	ChangePlan(ctx context.Context, subject types.Subject, plan types.PlanName) error
}

// SubscribeRequest is the body of POST /v1/pricing/subscribe.
type SubscribeRequest struct {
	Plan types.PlanName `json:"plan" validate:"required"`
}

// PricingHandler serves the pricing page and plan changes.
type PricingHandler struct {
	pricing   PricingService
	validator *core.Validator
	logger    *slog.Logger
}

// NewPricingHandler creates a PricingHandler.
func NewPricingHandler(pricing PricingService, v *core.Validator, l *slog.Logger) *PricingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PricingHandler{pricing: pricing, validator: v, logger: l}
}

// RegisterRoutes mounts the pricing routes on r.
func (h *PricingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/pricing", func(r chi.Router) {
		r.Get("/", h.View)
		r.With(core.RequireUser).Post("/subscribe", h.Subscribe)
	})
}

// View handles GET /v1/pricing. Anonymous visitors get the catalog without a
// current plan.
func (h *PricingHandler) View(w http.ResponseWriter, r *http.Request) {
	var subject *types.Subject
	if actor, ok := types.GetActor(r.Context()); ok {
		s := actor.Subject()
		subject = &s
	}

	page, err := h.pricing.View(r.Context(), subject)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, page)
}

// Subscribe handles POST /v1/pricing/subscribe and answers with the
// refreshed pricing page.
func (h *PricingHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())
	subject := actor.Subject()

	var req SubscribeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.pricing.ChangePlan(r.Context(), subject, req.Plan); err != nil {
		core.Error(w, r, err)
		return
	}

	page, err := h.pricing.View(r.Context(), &subject)
	if err != nil {
		h.logger.WarnContext(r.Context(), "pricing page reload failed after plan change",
			"subject", string(subject),
			"error", err,
		)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	core.Data(w, r, http.StatusOK, page)
}
