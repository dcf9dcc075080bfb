package postback

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/omran/offerwall-api/internal/pkg/metrics"
	"github.com/omran/offerwall-api/internal/pkg/response"
)

// Handler maps dispatcher results onto the wire shapes each provider
// mandates. AdGem must see HTTP 200 JSON on every path except bad method
// and bad signature; CPX must see a bare "OK" on everything except missing
// parameters and a bad hash. Internal failures are acknowledged as success
// so providers do not retry-storm; the idempotency guard makes any retry
// that does happen safe regardless.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes returns the postback router (no auth, signature verification only)
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/adgem", h.AdGem)
	r.Get("/cpx", h.CPX)
	return r
}

// adgemResponse is AdGem's expected acknowledgement body.
type adgemResponse struct {
	Success    bool   `json:"success"`
	Status     string `json:"status,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	Points     int64  `json:"points,omitempty"`
	ReceivedAt string `json:"received_at,omitempty"`
	Error      string `json:"error,omitempty"`
	Note       string `json:"note,omitempty"`
}

// AdGem handles POST /postbacks/adgem
func (h *Handler) AdGem(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		response.Raw(w, http.StatusOK, adgemResponse{
			Success: false,
			Error:   "unreadable body",
			Note:    "Error logged but request accepted",
		})
		return
	}

	res, err := h.svc.HandleAdGem(r.Context(), body, r.Header.Get("X-Adgem-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSignature):
			metrics.PostbacksRejected.WithLabelValues(string(ProviderAdGem), "bad_signature").Inc()
			response.Raw(w, http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
		case errors.Is(err, ErrInvalidPayload):
			log.Warn().Err(err).Msg("adgem postback undecodable")
			response.Raw(w, http.StatusOK, adgemResponse{
				Success: false,
				Error:   err.Error(),
				Note:    "Error logged but request accepted",
			})
		default:
			// Accept-and-log: the provider gets its acknowledgement, the
			// failure surfaces only through logs and metrics, and any
			// silently dropped credit is recoverable from the audit trail.
			log.Error().Err(err).Msg("adgem postback failed internally")
			metrics.PostbackStoreFailures.WithLabelValues(string(ProviderAdGem)).Inc()
			response.Raw(w, http.StatusOK, adgemResponse{
				Success: false,
				Error:   err.Error(),
				Note:    "Error logged but request accepted",
			})
		}
		return
	}

	response.Raw(w, http.StatusOK, adgemResponse{
		Success:    true,
		Status:     string(res.Outcome),
		UserID:     res.UserID,
		Points:     res.Points,
		ReceivedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// CPX handles GET /postbacks/cpx
func (h *Handler) CPX(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := CPXQuery{
		Status:      q.Get("status"),
		TransID:     q.Get("trans_id"),
		UserID:      q.Get("user_id"),
		AmountLocal: q.Get("amount_local"),
		Hash:        q.Get("hash"),
		SecureHash:  q.Get("secure_hash"),
		SubID1:      q.Get("subid_1"),
		Type:        q.Get("type"),
		OfferID:     q.Get("offer_id"),
	}

	_, err := h.svc.HandleCPX(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingParameters):
			metrics.PostbacksRejected.WithLabelValues(string(ProviderCPX), "missing_parameters").Inc()
			response.Plain(w, http.StatusBadRequest, "Missing parameters")
		case errors.Is(err, ErrInvalidSignature):
			metrics.PostbacksRejected.WithLabelValues(string(ProviderCPX), "bad_hash").Inc()
			response.Plain(w, http.StatusForbidden, "Invalid hash")
		default:
			log.Error().Err(err).Str("trans_id", params.TransID).Msg("cpx postback failed internally")
			metrics.PostbackStoreFailures.WithLabelValues(string(ProviderCPX)).Inc()
			response.Plain(w, http.StatusOK, "OK")
		}
		return
	}

	response.Plain(w, http.StatusOK, "OK")
}
