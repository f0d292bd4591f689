package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mwork/ledger-api/internal/pkg/errorhandler"
	"github.com/mwork/ledger-api/internal/pkg/response"
	"github.com/mwork/ledger-api/internal/pkg/stripe"
)

const maxWebhookBody = 64 << 10

// Handler receives payment provider webhooks.
type Handler struct {
	service  *Service
	verifier *stripe.Verifier
}

// NewHandler creates payment handler
func NewHandler(service *Service, verifier *stripe.Verifier) *Handler {
	return &Handler{service: service, verifier: verifier}
}

// WebhookRoutes returns webhook router (no auth, but signature verification)
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/stripe", h.Stripe)
	return r
}

// Stripe handles POST /webhooks/stripe
func (h *Handler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "webhook body too large")
			return
		}
		response.BadRequest(w, "failed to read body")
		return
	}

	if err := h.verifier.Verify(payload, r.Header.Get(stripe.SignatureHeader)); err != nil {
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Stripe webhook signature rejected")
		response.BadRequest(w, "invalid signature")
		return
	}

	out, err := h.service.HandleStripe(r.Context(), payload)
	switch {
	case errors.Is(err, ErrInvalidPayload):
		response.BadRequest(w, "invalid payload")
	case errors.Is(err, ErrQueueUnavailable):
		response.ServiceUnavailable(w, "try again later")
	case err != nil:
		errorhandler.Internal(r.Context(), w, err, "apply stripe webhook")
	default:
		response.OK(w, out)
	}
}
