package postback

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Provider identifies an offerwall network.
type Provider string

const (
	ProviderAdGem Provider = "adgem"
	ProviderCPX   Provider = "cpx"
)

// TransactionStatus is the lifecycle state of a recorded conversion.
// Reversed and fraud are terminal; a reversal against either is a no-op.
type TransactionStatus string

const (
	// StatusPending marks a conversion received for a user we could not
	// resolve. No points were credited; the record waits for reconciliation.
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusReversed  TransactionStatus = "reversed"
	StatusFraud     TransactionStatus = "fraud"
)

// Outcome is the terminal classification of one postback delivery.
type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeReversed         Outcome = "reversed"
	OutcomeOriginalNotFound Outcome = "original_not_found"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeUserNotFound     Outcome = "user_not_found"
	OutcomeTestReceived     Outcome = "test_received"
)

// Result is what the dispatcher hands back to the HTTP layer. The wire
// response a provider sees is derived from this, never built inside the
// dispatcher itself.
type Result struct {
	Outcome Outcome
	UserID  string
	Points  int64
}

// Transaction is the durable dedup-and-audit record of one provider
// conversion. (provider, transaction_id) is unique; the transaction id is the
// idempotency key.
type Transaction struct {
	ID              int64             `db:"id"`
	Provider        Provider          `db:"provider"`
	TransactionID   string            `db:"transaction_id"`
	UserID          sql.NullString    `db:"user_id"`
	PlayerID        sql.NullString    `db:"player_id"`
	OfferID         sql.NullString    `db:"offer_id"`
	PayoutAmount    float64           `db:"payout_amount"`
	Points          int64             `db:"points"`
	Status          TransactionStatus `db:"status"`
	RawPayload      JSONRawMessage    `db:"raw_payload"`
	ReversalPayload JSONRawMessage    `db:"reversal_payload"`
	CreatedAt       time.Time         `db:"created_at"`
	ReversedAt      sql.NullTime      `db:"reversed_at"`
}

// ProviderAccount maps a provider-side player id to an app user and keeps
// cumulative conversion stats for that pairing.
type ProviderAccount struct {
	Provider         Provider     `db:"provider"`
	PlayerID         string       `db:"player_id"`
	UserID           string       `db:"user_id"`
	TotalEarnings    float64      `db:"total_earnings"`
	TotalConversions int64        `db:"total_conversions"`
	LastConversionAt sql.NullTime `db:"last_conversion_at"`
	CreatedAt        time.Time    `db:"created_at"`
}

// LedgerEntry is an immutable audit record of one balance change. Entries are
// appended inside the same transaction that moves the balance and are never
// updated or deleted; their deltas sum to the user's balance.
type LedgerEntry struct {
	ID            uuid.UUID `db:"id"`
	UserID        string    `db:"user_id"`
	Delta         int64     `db:"delta"`
	EntryType     string    `db:"entry_type"`
	Provider      Provider  `db:"provider"`
	TransactionID string    `db:"transaction_id"`
	Description   string    `db:"description"`
	CreatedAt     time.Time `db:"created_at"`
}

// JSONRawMessage handles NULL json fields from DB
type JSONRawMessage []byte

func (j *JSONRawMessage) Scan(src any) error {
	if src == nil {
		*j = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = []byte(v)
	default:
		return fmt.Errorf("unsupported type: %T", src)
	}
	return nil
}

func (j JSONRawMessage) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}
