package ledger

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Entry is the read model of one point ledger row.
type Entry struct {
	ID            uuid.UUID `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	Delta         int64     `db:"delta" json:"delta"`
	EntryType     string    `db:"entry_type" json:"entry_type"`
	Provider      string    `db:"provider" json:"provider"`
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	Description   string    `db:"description" json:"description"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// BalanceReport compares a user's stored balance against the sum of their
// ledger deltas. The two reconcile under correct operation; drift means a
// store failure was swallowed at the wire and needs manual follow-up.
type BalanceReport struct {
	UserID         string `json:"user_id"`
	PointsBalance  int64  `json:"points_balance"`
	LifetimeEarned int64  `json:"lifetime_earned"`
	LedgerSum      int64  `json:"ledger_sum"`
	Consistent     bool   `json:"consistent"`
}

// Filters narrows ledger listings for the ops surface.
type Filters struct {
	UserID    string
	Provider  string
	EntryType string
	Limit     int
	Offset    int
}

// TransactionRecord is the read model of one recorded postback transaction.
// Pending rows here are conversions received for users that could not be
// resolved; they carry no ledger entry and need manual follow-up.
type TransactionRecord struct {
	ID            int64           `db:"id" json:"id"`
	Provider      string          `db:"provider" json:"provider"`
	TransactionID string          `db:"transaction_id" json:"transaction_id"`
	UserID        sql.NullString  `db:"user_id" json:"user_id"`
	PlayerID      sql.NullString  `db:"player_id" json:"player_id"`
	OfferID       sql.NullString  `db:"offer_id" json:"offer_id"`
	PayoutAmount  float64         `db:"payout_amount" json:"payout_amount"`
	Points        int64           `db:"points" json:"points"`
	Status        string          `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	ReversedAt    sql.NullTime    `db:"reversed_at" json:"reversed_at"`
}

// TransactionFilters narrows transaction listings.
type TransactionFilters struct {
	UserID   string
	Provider string
	Status   string
	Limit    int
	Offset   int
}
