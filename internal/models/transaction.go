package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Transaction struct {
	ID                   uuid.UUID        `json:"id"`
	Type                 TransactionType  `json:"type"`
	Amount               decimal.Decimal  `json:"amount"`
	Fee                  decimal.Decimal  `json:"fee"`
	SenderIdentity       string           `json:"sender_identity"`
	RecipientIdentity    string           `json:"recipient_identity"`
	SourceAccountID      uuid.NullUUID    `json:"source_account_id,omitempty"`
	DestinationAccountID uuid.NullUUID    `json:"destination_account_id,omitempty"`
	Status               StatusType       `json:"status"`
	Fence                *GeoFence        `json:"fence,omitempty"`
	Restriction          *TimeRestriction `json:"restriction,omitempty"`
	Description          string           `json:"description"`
	CreatedAt            time.Time        `json:"created_at"`
}

type TransactionType string

const (
	TypeSend    TransactionType = "send"
	TypeReceive TransactionType = "receive"
	TypeRequest TransactionType = "request"
	TypeLock    TransactionType = "lock"
	TypePenalty TransactionType = "penalty"
	TypeFee     TransactionType = "fee"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeSend, TypeReceive, TypeRequest, TypeLock, TypePenalty, TypeFee:
		return true
	}
	return false
}

type StatusType string

const (
	StatusPending   StatusType = "pending"
	StatusCompleted StatusType = "completed"
	StatusFailed    StatusType = "failed"
	StatusReturned  StatusType = "returned"
	StatusLocked    StatusType = "locked"
	StatusDeclined  StatusType = "declined"
)

func (s StatusType) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusReturned, StatusLocked, StatusDeclined:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transition.
func (s StatusType) Terminal() bool {
	return s != StatusPending
}
