package postback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// ApplyParams carries one verified conversion into the store. UserID may be
// empty when resolution failed; the conversion is then recorded as pending
// without touching any balance.
type ApplyParams struct {
	Provider      Provider
	TransactionID string
	UserID        string
	PlayerID      string
	OfferID       string
	PayoutAmount  float64
	Points        int64
	EntryType     string
	Description   string
	RawPayload    []byte
}

// ReversalResult reports what a reversal actually did.
type ReversalResult struct {
	Outcome Outcome
	UserID  string
	Points  int64
}

// Store is the durable side of the reconciliation core. The Postgres
// implementation is the production one; tests substitute an in-memory fake.
type Store interface {
	// TransactionExists is the pre-mutation duplicate check, scoped per
	// provider. It is advisory: the unique constraint inside ApplyConversion
	// is the real atomicity boundary.
	TransactionExists(ctx context.Context, provider Provider, transactionID string) (bool, error)

	// ResolveUser maps a provider player id to an app user via the provider
	// account table, falling back to an explicitly supplied user id when that
	// names an existing user. Returns "" when neither resolves.
	ResolveUser(ctx context.Context, provider Provider, playerID, userID string) (string, error)

	// ApplyConversion applies the multi-record credit as one atomic unit:
	// transaction record, user balance, provider stats, ledger entry.
	// A concurrent delivery of the same transaction id yields
	// OutcomeDuplicate for exactly one of the two writers.
	ApplyConversion(ctx context.Context, p ApplyParams) (Outcome, error)

	// ReverseConversion undoes a previously applied conversion by its
	// transaction id, deducting the originally recorded points. Idempotent:
	// an already reversed or fraud-flagged transaction is a no-op.
	ReverseConversion(ctx context.Context, provider Provider, transactionID string, newStatus TransactionStatus, entryType, description string, rawPayload []byte) (*ReversalResult, error)
}

// PostgresStore implements Store on sqlx/PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) TransactionExists(ctx context.Context, provider Provider, transactionID string) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var exists bool
	err := s.db.GetContext(ctx2, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM postback_transactions
			WHERE provider = $1 AND transaction_id = $2
		)
	`, provider, transactionID)
	if err != nil {
		return false, fmt.Errorf("%w: check transaction", ErrInternal)
	}

	return exists, nil
}

func (s *PostgresStore) ResolveUser(ctx context.Context, provider Provider, playerID, userID string) (string, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if playerID != "" {
		var mapped string
		err := s.db.GetContext(ctx2, &mapped, `
			SELECT user_id FROM provider_accounts
			WHERE provider = $1 AND player_id = $2
		`, provider, playerID)
		if err == nil {
			return mapped, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: resolve player", ErrInternal)
		}
	}

	if userID != "" {
		var exists bool
		err := s.db.GetContext(ctx2, &exists, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID)
		if err != nil {
			return "", fmt.Errorf("%w: resolve user", ErrInternal)
		}
		if exists {
			return userID, nil
		}
	}

	return "", nil
}

func (s *PostgresStore) ApplyConversion(ctx context.Context, p ApplyParams) (Outcome, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	status := StatusCompleted
	var userID interface{} = p.UserID
	if p.UserID == "" {
		status = StatusPending
		userID = nil
	}

	// The unique constraint on (provider, transaction_id) is the atomicity
	// boundary for duplicate suppression: of two racing deliveries only one
	// insert takes effect, the loser sees zero rows and stops here.
	result, err := tx.ExecContext(ctx2, `
		INSERT INTO postback_transactions
			(provider, transaction_id, user_id, player_id, offer_id, payout_amount, points, status, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider, transaction_id) DO NOTHING
	`, p.Provider, p.TransactionID, userID, nullable(p.PlayerID), nullable(p.OfferID), p.PayoutAmount, p.Points, status, p.RawPayload)
	if err != nil {
		return "", fmt.Errorf("%w: insert transaction", ErrTransactionFailed)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		return OutcomeDuplicate, nil
	}

	if p.UserID == "" {
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("%w: commit tx", ErrTransactionFailed)
		}
		return OutcomeUserNotFound, nil
	}

	result, err = tx.ExecContext(ctx2, `
		UPDATE users
		SET points_balance = points_balance + $2,
		    lifetime_earned = lifetime_earned + $2,
		    last_activity_at = now(),
		    updated_at = now()
		WHERE id = $1
	`, p.UserID, p.Points)
	if err != nil {
		return "", fmt.Errorf("%w: update user balance", ErrTransactionFailed)
	}
	rows, err = result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		// Resolved a moment ago but gone now. Roll everything back so a
		// provider retry can re-attempt cleanly.
		return "", fmt.Errorf("%w: resolved user disappeared", ErrTransactionFailed)
	}

	if p.PlayerID != "" {
		_, err = tx.ExecContext(ctx2, `
			INSERT INTO provider_accounts
				(provider, player_id, user_id, total_earnings, total_conversions, last_conversion_at)
			VALUES ($1, $2, $3, $4, 1, now())
			ON CONFLICT (provider, player_id) DO UPDATE SET
				total_earnings = provider_accounts.total_earnings + EXCLUDED.total_earnings,
				total_conversions = provider_accounts.total_conversions + 1,
				last_conversion_at = now()
		`, p.Provider, p.PlayerID, p.UserID, p.PayoutAmount)
		if err != nil {
			return "", fmt.Errorf("%w: update provider account", ErrTransactionFailed)
		}
	}

	if p.Points != 0 {
		if err := s.insertLedger(ctx2, tx, p.UserID, p.Points, p.EntryType, p.Provider, p.TransactionID, p.Description); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: commit tx", ErrTransactionFailed)
	}

	return OutcomeProcessed, nil
}

func (s *PostgresStore) ReverseConversion(ctx context.Context, provider Provider, transactionID string, newStatus TransactionStatus, entryType, description string, rawPayload []byte) (*ReversalResult, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	// FOR UPDATE serializes concurrent reversal deliveries for the same
	// transaction id; the second one sees the flipped status and no-ops.
	var rec struct {
		UserID sql.NullString    `db:"user_id"`
		Points int64             `db:"points"`
		Status TransactionStatus `db:"status"`
	}
	err = tx.GetContext(ctx2, &rec, `
		SELECT user_id, points, status
		FROM postback_transactions
		WHERE provider = $1 AND transaction_id = $2
		FOR UPDATE
	`, provider, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &ReversalResult{Outcome: OutcomeOriginalNotFound}, nil
		}
		return nil, fmt.Errorf("%w: load transaction", ErrTransactionFailed)
	}

	if rec.Status == StatusReversed || rec.Status == StatusFraud {
		return &ReversalResult{Outcome: OutcomeDuplicate, UserID: rec.UserID.String}, nil
	}

	_, err = tx.ExecContext(ctx2, `
		UPDATE postback_transactions
		SET status = $3, reversed_at = now(), reversal_payload = $4
		WHERE provider = $1 AND transaction_id = $2
	`, provider, transactionID, newStatus, rawPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: mark reversed", ErrTransactionFailed)
	}

	res := &ReversalResult{Outcome: OutcomeReversed, UserID: rec.UserID.String}

	// Pending transactions never credited anything, so there is nothing to
	// deduct. Completed ones give back exactly what was recorded, not a
	// recomputation at today's rate.
	if rec.Status == StatusCompleted && rec.UserID.Valid && rec.Points != 0 {
		_, err = tx.ExecContext(ctx2, `
			UPDATE users
			SET points_balance = points_balance - $2,
			    lifetime_earned = lifetime_earned - $2,
			    updated_at = now()
			WHERE id = $1
		`, rec.UserID.String, rec.Points)
		if err != nil {
			return nil, fmt.Errorf("%w: deduct user balance", ErrTransactionFailed)
		}

		if err := s.insertLedger(ctx2, tx, rec.UserID.String, -rec.Points, entryType, provider, transactionID, description); err != nil {
			return nil, err
		}
		res.Points = rec.Points
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrTransactionFailed)
	}

	return res, nil
}

func (s *PostgresStore) insertLedger(ctx context.Context, tx *sqlx.Tx, userID string, delta int64, entryType string, provider Provider, transactionID, description string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO point_ledger_entries
			(id, user_id, delta, entry_type, provider, transaction_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), userID, delta, entryType, provider, transactionID, description)
	if err != nil {
		return fmt.Errorf("%w: insert ledger entry", ErrTransactionFailed)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
