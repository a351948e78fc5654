package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/mkorenev/geopay/internal/models"
)

type LockedSavingRepository interface {
	Create(ctx context.Context, saving *models.LockedSaving) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.LockedSaving, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.LockedSaving, error)

	// MarkLocked flips pending → locked on provider confirmation.
	MarkLocked(ctx context.Context, id uuid.UUID) error

	// MarkWithdrawn flips locked → withdrawn. Only called after the payout
	// provider reported success.
	MarkWithdrawn(ctx context.Context, id uuid.UUID) error

	// MarkFailed flips pending → failed when the capture order dies.
	MarkFailed(ctx context.Context, id uuid.UUID) error

	// CountNotWithdrawn backs the account-removal guard: an account with any
	// saving in a status other than withdrawn cannot be deleted.
	CountNotWithdrawn(ctx context.Context, accountID uuid.UUID) (int, error)
}
