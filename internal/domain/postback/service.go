package postback

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/omran/offerwall-api/internal/pkg/metrics"
	"github.com/omran/offerwall-api/internal/pkg/signature"
	"github.com/omran/offerwall-api/internal/pkg/validator"
)

// seenTTL bounds the Redis duplicate fast-path. Providers stop retrying well
// before this; the database unique constraint covers everything after.
const seenTTL = 48 * time.Hour

// Config carries per-provider settings. Conversion rates are deliberately
// configuration: historical deployments disagreed on the CPX rate, so no
// value is ever inferred from the payload.
type Config struct {
	AdGemSecret        string
	AdGemAllowUnsigned bool
	AdGemPointsPerUnit int

	CPXSecret        string
	CPXPointsPerUnit int
}

// Service is the postback dispatcher. Per request it runs
// verify → dedup → (apply | reverse) and reports a terminal Result; the
// HTTP layer turns that into whatever wire shape the provider mandates.
type Service struct {
	store Store
	cache *redis.Client
	cfg   Config
}

func NewService(store Store, cache *redis.Client, cfg Config) *Service {
	return &Service{store: store, cache: cache, cfg: cfg}
}

// flexAmount tolerates number, numeric string, and null payouts. A payout we
// cannot parse credits nothing but the receipt is still recorded.
type flexAmount float64

func (a *flexAmount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*a = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*a = 0
		return nil
	}
	*a = flexAmount(v)
	return nil
}

// AdGemPayload is the JSON body AdGem posts for every event.
type AdGemPayload struct {
	Event        string     `json:"event"`
	PlayerID     string     `json:"player_id"`
	OfferID      string     `json:"offer_id"`
	OfferName    string     `json:"offer_name"`
	Payout       flexAmount `json:"payout"`
	ConversionID string     `json:"conversion_id"`
	TransID      string     `json:"trans_id"`
	UserID       string     `json:"user_id"`
}

// transactionID returns the provider-issued idempotency key, preferring the
// newer conversion_id field over the legacy trans_id.
func (p *AdGemPayload) transactionID() string {
	if p.ConversionID != "" {
		return p.ConversionID
	}
	return p.TransID
}

// HandleAdGem processes one AdGem webhook delivery. The signature is checked
// against the raw body before anything is parsed or persisted.
func (s *Service) HandleAdGem(ctx context.Context, body []byte, suppliedSig string) (Result, error) {
	switch {
	case s.cfg.AdGemSecret == "":
		// Only reachable when unsigned mode is allowed; startup validation
		// rejects the config otherwise.
		log.Warn().Msg("adgem secret not configured, accepting unverified postback")
	case suppliedSig == "":
		if !s.cfg.AdGemAllowUnsigned {
			return Result{}, ErrInvalidSignature
		}
		log.Warn().Msg("adgem postback without signature header accepted")
	default:
		if !signature.VerifyHMAC(body, suppliedSig, s.cfg.AdGemSecret) {
			return Result{}, ErrInvalidSignature
		}
	}

	var p AdGemPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	log.Info().
		Str("event", p.Event).
		Str("player_id", p.PlayerID).
		Str("offer_id", p.OfferID).
		Str("conversion_id", p.transactionID()).
		Msg("adgem postback received")

	switch p.Event {
	case "conversion":
		return s.applyConversion(ctx, applyRequest{
			provider:    ProviderAdGem,
			txID:        p.transactionID(),
			playerID:    p.PlayerID,
			userID:      p.UserID,
			offerID:     p.OfferID,
			amount:      float64(p.Payout),
			rate:        s.cfg.AdGemPointsPerUnit,
			entryType:   "adgem_conversion",
			description: adgemDescription(p.OfferName),
			raw:         body,
		})
	case "reversal":
		return s.reverseConversion(ctx, ProviderAdGem, p.transactionID(), StatusReversed, "adgem_reversal", "AdGem: Reversal", body)
	case "test":
		return s.finish(ProviderAdGem, Result{Outcome: OutcomeTestReceived}), nil
	default:
		log.Info().Str("event", p.Event).Msg("adgem event ignored")
		return s.finish(ProviderAdGem, Result{Outcome: OutcomeIgnored}), nil
	}
}

// CPXQuery is the query-string shape of a CPX Research postback. The secure
// hash may arrive under either parameter name; both are accepted.
type CPXQuery struct {
	Status      string `json:"status" validate:"required"`
	TransID     string `json:"trans_id" validate:"required"`
	UserID      string `json:"user_id"`
	AmountLocal string `json:"amount_local"`
	Hash        string `json:"hash"`
	SecureHash  string `json:"secure_hash"`
	SubID1      string `json:"subid_1"`
	Type        string `json:"type"`
	OfferID     string `json:"offer_id"`
}

func (q *CPXQuery) suppliedHash() string {
	if q.SecureHash != "" {
		return q.SecureHash
	}
	return q.Hash
}

// HandleCPX processes one CPX Research postback.
func (s *Service) HandleCPX(ctx context.Context, q CPXQuery) (Result, error) {
	if details := validator.Validate(q); details != nil {
		log.Warn().Interface("fields", details).Msg("cpx postback missing parameters")
		return Result{}, ErrMissingParameters
	}
	if q.suppliedHash() == "" {
		return Result{}, ErrMissingParameters
	}

	if !signature.VerifyTransactionHash(q.TransID, q.suppliedHash(), s.cfg.CPXSecret, signature.DigestMD5) {
		return Result{}, ErrInvalidSignature
	}

	log.Info().
		Str("status", q.Status).
		Str("trans_id", q.TransID).
		Str("user_id", q.UserID).
		Msg("cpx postback received")

	raw, _ := json.Marshal(q)

	switch q.Status {
	case "1":
		amount, err := strconv.ParseFloat(q.AmountLocal, 64)
		if err != nil {
			amount = 0
		}
		return s.applyConversion(ctx, applyRequest{
			provider: ProviderCPX,
			txID:     q.TransID,
			// CPX has no separate player identity; the app user id doubles
			// as the provider account key so per-wall stats still accrue.
			playerID:    q.UserID,
			userID:      q.UserID,
			offerID:     q.OfferID,
			amount:      amount,
			rate:        s.cfg.CPXPointsPerUnit,
			entryType:   "cpx_conversion",
			description: cpxDescription(q.Type),
			raw:         raw,
		})
	case "2":
		return s.reverseConversion(ctx, ProviderCPX, q.TransID, StatusFraud, "cpx_reversal", "CPX Research: chargeback", raw)
	default:
		log.Info().Str("status", q.Status).Msg("cpx status ignored")
		return s.finish(ProviderCPX, Result{Outcome: OutcomeIgnored}), nil
	}
}

type applyRequest struct {
	provider    Provider
	txID        string
	playerID    string
	userID      string
	offerID     string
	amount      float64
	rate        int
	entryType   string
	description string
	raw         []byte
}

func (s *Service) applyConversion(ctx context.Context, req applyRequest) (Result, error) {
	txID := req.txID
	if txID == "" {
		// No idempotency key at all. Record the receipt under a surrogate id;
		// it can never be deduplicated or reversed, but it is auditable.
		txID = "gen-" + uuid.New().String()
		log.Warn().Str("provider", string(req.provider)).Msg("postback without transaction id, using surrogate")
	} else if s.isDuplicate(ctx, req.provider, txID) {
		return s.finish(req.provider, Result{Outcome: OutcomeDuplicate}), nil
	}

	userID, err := s.store.ResolveUser(ctx, req.provider, req.playerID, req.userID)
	if err != nil {
		return Result{}, err
	}

	points := computePoints(req.amount, req.rate)
	outcome, err := s.store.ApplyConversion(ctx, ApplyParams{
		Provider:      req.provider,
		TransactionID: txID,
		UserID:        userID,
		PlayerID:      req.playerID,
		OfferID:       req.offerID,
		PayoutAmount:  req.amount,
		Points:        points,
		EntryType:     req.entryType,
		Description:   req.description,
		RawPayload:    req.raw,
	})
	if err != nil {
		return Result{}, err
	}

	s.markSeen(ctx, req.provider, txID)

	res := Result{Outcome: outcome}
	if outcome == OutcomeProcessed {
		res.UserID = userID
		res.Points = points
		log.Info().
			Str("provider", string(req.provider)).
			Str("user_id", userID).
			Int64("points", points).
			Str("transaction_id", txID).
			Msg("conversion credited")
		metrics.PointsCredited.WithLabelValues(string(req.provider)).Add(float64(points))
	}
	if outcome == OutcomeUserNotFound {
		log.Warn().
			Str("provider", string(req.provider)).
			Str("player_id", req.playerID).
			Str("transaction_id", txID).
			Msg("conversion recorded pending, user unresolved")
	}
	return s.finish(req.provider, res), nil
}

func (s *Service) reverseConversion(ctx context.Context, provider Provider, txID string, newStatus TransactionStatus, entryType, description string, raw []byte) (Result, error) {
	if txID == "" {
		return s.finish(provider, Result{Outcome: OutcomeOriginalNotFound}), nil
	}

	rr, err := s.store.ReverseConversion(ctx, provider, txID, newStatus, entryType, description, raw)
	if err != nil {
		return Result{}, err
	}

	if rr.Outcome == OutcomeReversed && rr.Points > 0 {
		log.Info().
			Str("provider", string(provider)).
			Str("user_id", rr.UserID).
			Int64("points", rr.Points).
			Str("transaction_id", txID).
			Msg("conversion reversed")
		metrics.PointsReversed.WithLabelValues(string(provider)).Add(float64(rr.Points))
	}

	return s.finish(provider, Result{Outcome: rr.Outcome, UserID: rr.UserID, Points: rr.Points}), nil
}

// isDuplicate is the advisory pre-check. A cache or store miss here is never
// fatal: the create-if-absent write in ApplyConversion still guards the race.
func (s *Service) isDuplicate(ctx context.Context, provider Provider, txID string) bool {
	if s.cache != nil {
		n, err := s.cache.Exists(ctx, seenKey(provider, txID)).Result()
		if err == nil && n > 0 {
			return true
		}
	}

	exists, err := s.store.TransactionExists(ctx, provider, txID)
	if err != nil {
		log.Warn().Err(err).Str("transaction_id", txID).Msg("duplicate pre-check failed, continuing")
		return false
	}
	return exists
}

func (s *Service) markSeen(ctx context.Context, provider Provider, txID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, seenKey(provider, txID), "1", seenTTL).Err(); err != nil {
		log.Warn().Err(err).Str("transaction_id", txID).Msg("failed to cache seen transaction")
	}
}

func (s *Service) finish(provider Provider, res Result) Result {
	metrics.PostbacksReceived.WithLabelValues(string(provider), string(res.Outcome)).Inc()
	return res
}

func computePoints(amount float64, rate int) int64 {
	if amount <= 0 || rate <= 0 {
		return 0
	}
	return int64(math.Floor(amount * float64(rate)))
}

func seenKey(provider Provider, txID string) string {
	return "postback:seen:" + string(provider) + ":" + txID
}

func adgemDescription(offerName string) string {
	if offerName == "" {
		offerName = "Offer"
	}
	return "AdGem: " + offerName
}

func cpxDescription(typ string) string {
	if typ == "" {
		return "CPX Research conversion"
	}
	return "CPX Research: " + typ
}
