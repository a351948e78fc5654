package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LockedSaving struct {
	ID               uuid.UUID          `json:"id"`
	AccountID        uuid.UUID          `json:"account_id"`
	Amount           decimal.Decimal    `json:"amount"`
	LockPeriodMonths int                `json:"lock_period_months"`
	StartDate        time.Time          `json:"start_date"`
	EndDate          time.Time          `json:"end_date"`
	Status           LockedSavingStatus `json:"status"`
	ExternalOrderRef string             `json:"external_order_ref"`
	CreatedAt        time.Time          `json:"created_at"`
}

type LockedSavingStatus string

const (
	SavingPending   LockedSavingStatus = "pending"
	SavingLocked    LockedSavingStatus = "locked"
	SavingWithdrawn LockedSavingStatus = "withdrawn"
	SavingFailed    LockedSavingStatus = "failed"
)

func (s LockedSavingStatus) Valid() bool {
	switch s {
	case SavingPending, SavingLocked, SavingWithdrawn, SavingFailed:
		return true
	}
	return false
}
