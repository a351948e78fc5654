package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/mkorenev/geopay/internal/models"
	"github.com/shopspring/decimal"
)

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByOwnerIdentity(ctx context.Context, identity string) (*models.Account, error)
	// SetBalance overwrites the known balance with a fresh BalanceSource
	// reading. Sync always wins over stale local state.
	SetBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error
	Delete(ctx context.Context, id uuid.UUID) error
}
