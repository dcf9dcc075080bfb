package user

import (
	"database/sql"
	"time"
)

// User represents an app account as the point ledger sees it. The ID is the
// opaque identifier minted by the account subsystem; offerwall providers echo
// it back in postbacks. Only the balance fields are mutated here.
type User struct {
	ID             string       `db:"id"`
	PointsBalance  int64        `db:"points_balance"`
	LifetimeEarned int64        `db:"lifetime_earned"`
	LastActivityAt sql.NullTime `db:"last_activity_at"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}
