// Package provider defines the outbound ports of the core: the payment rails
// that actually hold and move money for locked savings, and the balance
// source an account's known balance is refreshed from. Only the
// request/response contract lives here; transport belongs to the
// implementations.
package provider

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CaptureOrder is the provider's answer to opening a funding order. The
// approval reference is handed back to the caller, who completes the capture
// on the provider's side; confirmation arrives asynchronously.
type CaptureOrder struct {
	OrderRef    string `json:"order_ref"`
	ApprovalRef string `json:"approval_ref"`
}

type PaymentCaptureProvider interface {
	OpenOrder(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*CaptureOrder, error)
}

type PaymentPayoutProvider interface {
	// SendPayout pushes the payout to the account's funding source and
	// returns the provider's payout reference. An error means no payout was
	// confirmed; the caller must not record the funds as gone.
	SendPayout(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (string, error)
}

type BalanceSource interface {
	CurrentBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
}

// RetryPolicy bounds how hard an implementation retries a failing provider.
// It is injected rather than baked into control flow so callers decide the
// budget.
type RetryPolicy struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy suits interactive request paths: a few quick attempts,
// then surface the failure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}
