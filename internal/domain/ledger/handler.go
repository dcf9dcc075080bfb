package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/omran/offerwall-api/internal/domain/user"
	"github.com/omran/offerwall-api/internal/pkg/response"
)

// Handler exposes the audit-log read side used for out-of-band
// reconciliation.
type Handler struct {
	repo  Repository
	users user.Repository
}

func NewHandler(repo Repository, users user.Repository) *Handler {
	return &Handler{repo: repo, users: users}
}

// Routes returns ledger router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	return r
}

// List handles GET /ledger
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filters := Filters{
		UserID:    r.URL.Query().Get("user_id"),
		Provider:  r.URL.Query().Get("provider"),
		EntryType: r.URL.Query().Get("entry_type"),
		Limit:     20,
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			filters.Limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			filters.Offset = v
		}
	}

	entries, err := h.repo.List(r.Context(), filters)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, entries)
}

// Transactions handles GET /transactions. The main use is listing pending
// rows: conversions recorded for users that could not be resolved.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	filters := TransactionFilters{
		UserID:   r.URL.Query().Get("user_id"),
		Provider: r.URL.Query().Get("provider"),
		Status:   r.URL.Query().Get("status"),
		Limit:    20,
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			filters.Limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			filters.Offset = v
		}
	}

	records, err := h.repo.ListTransactions(r.Context(), filters)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, records)
}

// Balance handles GET /users/{id}/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		response.BadRequest(w, "missing user id")
		return
	}

	u, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			response.NotFound(w, "user not found")
			return
		}
		response.InternalError(w)
		return
	}

	sum, err := h.repo.SumByUser(r.Context(), userID)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, BalanceReport{
		UserID:         u.ID,
		PointsBalance:  u.PointsBalance,
		LifetimeEarned: u.LifetimeEarned,
		LedgerSum:      sum,
		Consistent:     u.PointsBalance == sum,
	})
}
