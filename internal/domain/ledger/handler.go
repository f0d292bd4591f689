package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mwork/ledger-api/internal/middleware"
	"github.com/mwork/ledger-api/internal/pkg/errorhandler"
	"github.com/mwork/ledger-api/internal/pkg/response"
	"github.com/mwork/ledger-api/internal/pkg/validator"
)

const maxRequestBody = 16 << 10

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// InternalRoutes serves collaborating services; the account comes from the
// path. Mount behind ServiceAuth.
func (h *Handler) InternalRoutes() chi.Router {
	r := chi.NewRouter()
	r.Route("/{accountID}", func(r chi.Router) {
		r.Get("/balance", h.withPathAccount(h.balance))
		r.Post("/debit", h.withPathAccount(h.debit))
		r.Post("/credit", h.withPathAccount(h.credit))
		r.Get("/entitlement", h.withPathAccount(h.entitlement))
		r.Get("/entries", h.withPathAccount(h.entries))
		r.Get("/reconcile", h.withPathAccount(h.reconcile))
	})
	return r
}

// Routes serves the signed-in account's own ledger.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler, extra ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(extra...)
	r.Get("/balance", h.withUserAccount(h.balance))
	r.Get("/entries", h.withUserAccount(h.entries))
	r.Get("/entitlement", h.withUserAccount(h.entitlement))
	return r
}

type accountHandler func(w http.ResponseWriter, r *http.Request, accountID uuid.UUID)

func (h *Handler) withPathAccount(next accountHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
		if err != nil || accountID == uuid.Nil {
			response.BadRequest(w, "invalid account id")
			return
		}
		next(w, r, accountID)
	}
}

func (h *Handler) withUserAccount(next accountHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := middleware.GetUserID(r.Context())
		if accountID == uuid.Nil {
			response.Unauthorized(w, "unauthorized")
			return
		}
		next(w, r, accountID)
	}
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) {
	b, err := h.svc.GetBalance(r.Context(), accountID)
	if err != nil {
		h.fail(w, r, err, "get balance")
		return
	}
	response.OK(w, BalanceResponseFromEntity(b))
}

func (h *Handler) debit(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) {
	var req DebitRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.TryDebit(r.Context(), accountID, req.Amount, req.Description)
	if err != nil {
		h.fail(w, r, err, "debit")
		return
	}

	out := DebitResponse{Applied: res.Applied, BalanceAfter: res.BalanceAfter}
	if res.Entry != nil {
		out.EntryID = &res.Entry.ID
	}
	response.OK(w, out)
}

func (h *Handler) credit(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) {
	var req CreditRequest
	if !decode(w, r, &req) {
		return
	}

	entry, after, err := h.svc.Credit(r.Context(), CreditParams{
		AccountID:     accountID,
		Amount:        req.Amount,
		Kind:          Kind(req.Kind),
		Description:   req.Description,
		SourceEventID: req.SourceEventID,
	})
	if errors.Is(err, ErrDuplicateSourceEvent) {
		response.OK(w, CreditResponse{Duplicate: true})
		return
	}
	if err != nil {
		h.fail(w, r, err, "credit")
		return
	}
	response.Created(w, CreditResponse{EntryID: &entry.ID, BalanceAfter: &after})
}

func (h *Handler) entitlement(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) {
	amount := int64(1)
	if raw := r.URL.Query().Get("amount"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			response.BadRequest(w, "amount must be a positive integer")
			return
		}
		amount = v
	}

	allowed, err := h.svc.CanAfford(r.Context(), accountID, amount)
	if err != nil {
		h.fail(w, r, err, "entitlement")
		return
	}
	response.OK(w, EntitlementResponse{Allowed: allowed, Amount: amount})
}

func (h *Handler) entries(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			response.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = v
	}

	entries, err := h.svc.ListEntries(r.Context(), accountID, limit)
	if err != nil {
		h.fail(w, r, err, "list entries")
		return
	}
	response.OK(w, EntryResponsesFromEntities(entries))
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) {
	rep, err := h.svc.Reconcile(r.Context(), accountID)
	if err != nil {
		h.fail(w, r, err, "reconcile")
		return
	}
	response.OK(w, rep)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		response.BadRequest(w, "amount must be greater than zero")
	case errors.Is(err, ErrInvalidKind):
		response.BadRequest(w, "kind must be credit or refund")
	case errors.Is(err, ErrBalanceNotFound):
		response.NotFound(w, "balance not found")
	case errors.Is(err, ErrNegativeBalance):
		errorhandler.HandleError(r.Context(), w, http.StatusConflict, "NEGATIVE_BALANCE", "balance would become negative", err)
	default:
		errorhandler.Internal(r.Context(), w, err, op)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := response.DecodeJSON(r.Body, dst); err != nil {
		if errors.Is(err, response.ErrBodyTooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body too large")
			return false
		}
		response.BadRequest(w, "invalid JSON body")
		return false
	}
	if errs := validator.Validate(dst); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return false
	}
	return true
}
