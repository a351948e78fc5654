package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a connected funding source. Balance is nullable: a freshly
// connected account has no known balance until the first BalanceSource sync,
// which is not the same thing as a balance of zero.
type Account struct {
	ID            uuid.UUID           `json:"id"`
	OwnerIdentity string              `json:"owner_identity"`
	Balance       decimal.NullDecimal `json:"balance"`
	CreatedAt     time.Time           `json:"created_at"`
}
