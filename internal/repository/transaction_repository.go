package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/mkorenev/geopay/internal/models"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	ListByIdentity(ctx context.Context, identity string) ([]models.Transaction, error)

	// MarkReturned flips pending → returned (the expiry-discovered-at-claim
	// transition). Reports ErrNotClaimable when the row is no longer pending.
	MarkReturned(ctx context.Context, id uuid.UUID) error

	// MarkDeclined flips pending → declined without moving funds.
	MarkDeclined(ctx context.Context, id uuid.UUID) error

	// SettleClaim performs the whole claim settlement in one database
	// transaction: compare-and-swap the status from pending to completed
	// (the loser of a concurrent claim sees ErrNotClaimable), debit the
	// sender for amount+fee, credit the destination for amount, and append
	// the mirror receive row. On success tx is updated in place.
	SettleClaim(ctx context.Context, tx *models.Transaction, destinationAccountID uuid.UUID) error

	// SettleApproval settles a money request: compare-and-swap pending →
	// completed, debit the payer for the amount (no fee on approvals) and
	// credit the requester's account when one resolves by identity.
	SettleApproval(ctx context.Context, tx *models.Transaction, payerAccountID uuid.UUID, requesterAccountID uuid.NullUUID) error
}
