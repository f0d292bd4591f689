package subscription

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mwork/ledger-api/internal/middleware"
	"github.com/mwork/ledger-api/internal/pkg/errorhandler"
	"github.com/mwork/ledger-api/internal/pkg/response"
)

// Handler handles subscription HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates subscription handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts GET / and GET /plans behind authMiddleware.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/plans", h.ListPlans)
	r.With(authMiddleware).Get("/", h.GetCurrent)
	return r
}

// ListPlans handles GET /subscription/plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.ListPlans(r.Context())
	if err != nil {
		errorhandler.Internal(r.Context(), w, err, "list plans")
		return
	}
	response.OK(w, PlanResponsesFromEntities(plans))
}

// GetCurrent handles GET /subscription
func (h *Handler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	rec, err := h.service.Get(r.Context(), userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		response.NotFound(w, "no subscription")
		return
	}
	if err != nil {
		errorhandler.Internal(r.Context(), w, err, "get subscription")
		return
	}
	response.OK(w, SubscriptionResponseFromEntity(rec, h.service.clock.Now()))
}
