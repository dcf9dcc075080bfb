package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

var ErrInternal = errors.New("internal error")

// Repository reads the append-only point ledger. Nothing here mutates: writes
// happen only inside the postback store's transactions.
type Repository interface {
	List(ctx context.Context, filters Filters) ([]Entry, error)
	ListTransactions(ctx context.Context, filters TransactionFilters) ([]TransactionRecord, error)
	SumByUser(ctx context.Context, userID string) (int64, error)
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context, filters Filters) ([]Entry, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	base := `
		SELECT id, user_id, delta, entry_type, provider, transaction_id, description, created_at
		FROM point_ledger_entries
		WHERE 1=1`
	args := make([]interface{}, 0, 5)
	idx := 1

	if filters.UserID != "" {
		base += fmt.Sprintf(" AND user_id = $%d", idx)
		args = append(args, filters.UserID)
		idx++
	}
	if filters.Provider != "" {
		base += fmt.Sprintf(" AND provider = $%d", idx)
		args = append(args, filters.Provider)
		idx++
	}
	if filters.EntryType != "" {
		base += fmt.Sprintf(" AND entry_type = $%d", idx)
		args = append(args, filters.EntryType)
		idx++
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}

	base += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, filters.Offset)

	entries := make([]Entry, 0)
	if err := r.db.SelectContext(ctx2, &entries, base, args...); err != nil {
		return nil, fmt.Errorf("%w: list ledger entries", ErrInternal)
	}

	return entries, nil
}

func (r *repository) ListTransactions(ctx context.Context, filters TransactionFilters) ([]TransactionRecord, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	base := `
		SELECT id, provider, transaction_id, user_id, player_id, offer_id,
		       payout_amount, points, status, created_at, reversed_at
		FROM postback_transactions
		WHERE 1=1`
	args := make([]interface{}, 0, 5)
	idx := 1

	if filters.UserID != "" {
		base += fmt.Sprintf(" AND user_id = $%d", idx)
		args = append(args, filters.UserID)
		idx++
	}
	if filters.Provider != "" {
		base += fmt.Sprintf(" AND provider = $%d", idx)
		args = append(args, filters.Provider)
		idx++
	}
	if filters.Status != "" {
		base += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, filters.Status)
		idx++
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}

	base += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, filters.Offset)

	records := make([]TransactionRecord, 0)
	if err := r.db.SelectContext(ctx2, &records, base, args...); err != nil {
		return nil, fmt.Errorf("%w: list transactions", ErrInternal)
	}

	return records, nil
}

func (r *repository) SumByUser(ctx context.Context, userID string) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sum int64
	err := r.db.GetContext(ctx2, &sum, `
		SELECT COALESCE(SUM(delta), 0)
		FROM point_ledger_entries
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: sum ledger deltas", ErrInternal)
	}

	return sum, nil
}
