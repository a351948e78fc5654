package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mkorenev/geopay/internal/models"
	"github.com/mkorenev/geopay/internal/provider"
	"github.com/mkorenev/geopay/internal/repository"
	pkgerrors "github.com/mkorenev/geopay/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// AccountService manages funding-source connections. The BalanceSource is
// authoritative: a sync overwrites whatever balance was known before, and a
// never-synced account keeps its null balance.
type AccountService interface {
	Connect(ctx context.Context, ownerIdentity string) (*models.Account, error)
	Get(ctx context.Context, callerIdentity string, id uuid.UUID) (*models.Account, error)
	RefreshBalance(ctx context.Context, callerIdentity string, id uuid.UUID) (*models.Account, error)
	Delete(ctx context.Context, callerIdentity string, id uuid.UUID) error
}

type accountService struct {
	accountRepo   repository.AccountRepository
	savingRepo    repository.LockedSavingRepository
	balanceSource provider.BalanceSource
}

func NewAccountService(
	accountRepo repository.AccountRepository,
	savingRepo repository.LockedSavingRepository,
	balanceSource provider.BalanceSource,
) *accountService {
	return &accountService{
		accountRepo:   accountRepo,
		savingRepo:    savingRepo,
		balanceSource: balanceSource,
	}
}

func (s *accountService) Connect(ctx context.Context, ownerIdentity string) (*models.Account, error) {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "ConnectAccount")
	defer span.End()

	if ownerIdentity == "" {
		span.SetStatus(codes.Error, "missing identity")
		return nil, fmt.Errorf("%w: owner identity is required", pkgerrors.ErrInvalidInput)
	}

	account := &models.Account{OwnerIdentity: ownerIdentity}
	if err := s.accountRepo.Create(ctx, account); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "account creation failed")
		return nil, err
	}

	// First sync is best-effort; the account stays usable with an unknown
	// balance until a later refresh succeeds.
	if balance, err := s.balanceSource.CurrentBalance(ctx, account.ID); err == nil {
		if err := s.accountRepo.SetBalance(ctx, account.ID, balance); err == nil {
			account.Balance.Decimal = balance
			account.Balance.Valid = true
		}
	} else {
		slog.Warn("initial balance sync failed", "account_id", account.ID, "error", err)
	}

	slog.Info("account connected", "account_id", account.ID, "owner", ownerIdentity,
		"balance_known", account.Balance.Valid)
	return account, nil
}

func (s *accountService) Get(ctx context.Context, callerIdentity string, id uuid.UUID) (*models.Account, error) {
	account, err := s.accountRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.OwnerIdentity != callerIdentity {
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrInvalidAccount, id)
	}
	return account, nil
}

func (s *accountService) RefreshBalance(ctx context.Context, callerIdentity string, id uuid.UUID) (*models.Account, error) {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "RefreshBalance")
	defer span.End()

	account, err := s.Get(ctx, callerIdentity, id)
	if err != nil {
		span.SetStatus(codes.Error, "account not found")
		return nil, err
	}

	balance, err := s.balanceSource.CurrentBalance(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "balance source failed")
		slog.Error("balance refresh failed", "account_id", id, "error", err)
		return nil, err
	}

	if err := s.accountRepo.SetBalance(ctx, id, balance); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to store balance")
		return nil, err
	}

	account.Balance.Decimal = balance
	account.Balance.Valid = true
	slog.Info("balance refreshed", "account_id", id, "balance", balance)
	return account, nil
}

func (s *accountService) Delete(ctx context.Context, callerIdentity string, id uuid.UUID) error {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "DeleteAccount")
	defer span.End()

	if _, err := s.Get(ctx, callerIdentity, id); err != nil {
		span.SetStatus(codes.Error, "account not found")
		return err
	}

	// Referential guard: history of withdrawn savings is fine, anything
	// else still references the account's funds.
	active, err := s.savingRepo.CountNotWithdrawn(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to count savings")
		return err
	}
	if active > 0 {
		span.SetStatus(codes.Error, "account has active locks")
		slog.Warn("account deletion blocked by active savings", "account_id", id, "count", active)
		return fmt.Errorf("%w: %d active", pkgerrors.ErrAccountHasActiveLocks, active)
	}

	if err := s.accountRepo.Delete(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return err
	}

	slog.Info("account deleted", "account_id", id)
	return nil
}
