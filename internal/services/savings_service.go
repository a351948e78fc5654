package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mkorenev/geopay/internal/infrastructure/kafka"
	"github.com/mkorenev/geopay/internal/infrastructure/redis"
	"github.com/mkorenev/geopay/internal/models"
	"github.com/mkorenev/geopay/internal/provider"
	"github.com/mkorenev/geopay/internal/repository"
	pkgerrors "github.com/mkorenev/geopay/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// WithdrawResult carries the payout math back to the caller.
type WithdrawResult struct {
	Saving  *models.LockedSaving
	Payout  decimal.Decimal
	Penalty decimal.Decimal
}

// SavingsService owns the locked-savings lifecycle. The capture provider is
// the custodian of locked funds: initiating a lock opens a provider order
// and the Pending → Locked transition only happens on the provider's
// confirmation. No ledger balance moves for locks; the lock/penalty
// transaction rows are bookkeeping entries.
type SavingsService interface {
	InitiateLock(ctx context.Context, callerIdentity string, accountID uuid.UUID, amount decimal.Decimal, periodMonths int, requestID string) (*models.LockedSaving, string, error)
	ConfirmLock(ctx context.Context, lockedSavingID uuid.UUID) error
	Withdraw(ctx context.Context, callerIdentity string, lockedSavingID uuid.UUID) (*WithdrawResult, error)
	ListByAccount(ctx context.Context, callerIdentity string, accountID uuid.UUID) ([]models.LockedSaving, error)
}

type savingsService struct {
	accountRepo repository.AccountRepository
	savingRepo  repository.LockedSavingRepository
	txRepo      repository.TransactionRepository
	capture     provider.PaymentCaptureProvider
	payout      provider.PaymentPayoutProvider
	redisClient redis.RedisClient
	producer    kafka.KafkaProducer
	penaltyRate decimal.Decimal
	periods     map[int]bool
}

func NewSavingsService(
	accountRepo repository.AccountRepository,
	savingRepo repository.LockedSavingRepository,
	txRepo repository.TransactionRepository,
	capture provider.PaymentCaptureProvider,
	payout provider.PaymentPayoutProvider,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
	penaltyRate decimal.Decimal,
	periodsMonths []int,
) *savingsService {
	periods := make(map[int]bool, len(periodsMonths))
	for _, p := range periodsMonths {
		periods[p] = true
	}
	return &savingsService{
		accountRepo: accountRepo,
		savingRepo:  savingRepo,
		txRepo:      txRepo,
		capture:     capture,
		payout:      payout,
		redisClient: redisClient,
		producer:    producer,
		penaltyRate: penaltyRate,
		periods:     periods,
	}
}

func (s *savingsService) publishEvent(ctx context.Context, eventType string, saving *models.LockedSaving) {
	event := map[string]interface{}{
		"event_type":       eventType,
		"locked_saving_id": saving.ID.String(),
		"account_id":       saving.AccountID.String(),
		"amount":           saving.Amount,
		"status":           saving.Status,
		"created_at":       time.Now().UTC().Format(time.RFC3339),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal saving event", "locked_saving_id", saving.ID, "error", err)
		return
	}
	if err := s.producer.Send(ctx, ledgerEventsTopic, saving.ID.String(), eventBytes); err != nil {
		slog.Error("failed to publish saving event", "event_type", eventType, "locked_saving_id", saving.ID, "error", err)
	}
}

func (s *savingsService) InitiateLock(ctx context.Context, callerIdentity string, accountID uuid.UUID, amount decimal.Decimal, periodMonths int, requestID string) (*models.LockedSaving, string, error) {
	tracer := otel.Tracer("savings-service")
	ctx, span := tracer.Start(ctx, "InitiateLock")
	defer span.End()

	if !s.periods[periodMonths] {
		span.SetStatus(codes.Error, "invalid lock period")
		return nil, "", fmt.Errorf("%w: %d months", pkgerrors.ErrInvalidPeriod, periodMonths)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		span.SetStatus(codes.Error, "invalid amount")
		return nil, "", fmt.Errorf("%w: %s", pkgerrors.ErrInvalidAmount, amount)
	}

	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "account not found")
		return nil, "", err
	}
	if account.OwnerIdentity != callerIdentity {
		span.SetStatus(codes.Error, "account does not belong to caller")
		return nil, "", fmt.Errorf("%w: %s", pkgerrors.ErrInvalidAccount, accountID)
	}

	requestKey := fmt.Sprintf("request:%s", requestID)
	if _, err := s.redisClient.Get(ctx, requestKey); err == nil {
		span.SetStatus(codes.Error, "request already processed")
		return nil, "", pkgerrors.ErrRequestAlreadyProcessed
	}
	if err := s.redisClient.Set(ctx, requestKey, "pending", 24*time.Hour); err != nil {
		span.RecordError(err)
		return nil, "", fmt.Errorf("failed to set request key: %w", err)
	}

	// The provider is the source of truth for whether the capture succeeds;
	// no balance check here. Confirmation arrives asynchronously and is
	// what flips the saving to Locked.
	order, err := s.capture.OpenOrder(ctx, accountID, amount)
	if err != nil {
		s.redisClient.Del(ctx, requestKey)
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture order failed")
		slog.Error("failed to open capture order", "account_id", accountID, "error", err)
		return nil, "", err
	}

	now := time.Now().UTC()
	saving := &models.LockedSaving{
		AccountID:        accountID,
		Amount:           amount,
		LockPeriodMonths: periodMonths,
		StartDate:        now,
		// Fixed at creation, never recomputed.
		EndDate:          now.AddDate(0, periodMonths, 0),
		Status:           models.SavingPending,
		ExternalOrderRef: order.OrderRef,
	}
	if err := s.savingRepo.Create(ctx, saving); err != nil {
		s.redisClient.Del(ctx, requestKey)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create locked saving")
		return nil, "", err
	}

	slog.Info("lock initiated", "locked_saving_id", saving.ID, "account_id", accountID,
		"amount", amount, "months", periodMonths, "order_ref", order.OrderRef)
	return saving, order.ApprovalRef, nil
}

func (s *savingsService) ConfirmLock(ctx context.Context, lockedSavingID uuid.UUID) error {
	tracer := otel.Tracer("savings-service")
	ctx, span := tracer.Start(ctx, "ConfirmLock")
	defer span.End()

	saving, err := s.savingRepo.GetByID(ctx, lockedSavingID)
	if err != nil {
		span.SetStatus(codes.Error, "locked saving not found")
		return err
	}
	if saving.Status == models.SavingLocked {
		// Providers redeliver confirmations; the first one won.
		return nil
	}

	if err := s.savingRepo.MarkLocked(ctx, lockedSavingID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark locked")
		return err
	}
	saving.Status = models.SavingLocked

	account, err := s.accountRepo.GetByID(ctx, saving.AccountID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to resolve account for lock entry", "locked_saving_id", lockedSavingID, "error", err)
		return err
	}

	// History entry only; the provider holds the funds.
	lockTx := &models.Transaction{
		Type:                 models.TypeLock,
		Amount:               saving.Amount,
		Fee:                  decimal.Zero,
		SenderIdentity:       account.OwnerIdentity,
		RecipientIdentity:    account.OwnerIdentity,
		SourceAccountID:      uuid.NullUUID{UUID: saving.AccountID, Valid: true},
		DestinationAccountID: uuid.NullUUID{UUID: saving.AccountID, Valid: true},
		Status:               models.StatusCompleted,
		Description:          fmt.Sprintf("locked savings for %d months", saving.LockPeriodMonths),
	}
	if err := s.txRepo.Create(ctx, lockTx); err != nil {
		slog.Error("failed to append lock entry", "locked_saving_id", lockedSavingID, "error", err)
	}

	s.publishEvent(ctx, "lock.confirmed", saving)
	slog.Info("lock confirmed", "locked_saving_id", lockedSavingID, "account_id", saving.AccountID)
	return nil
}

func (s *savingsService) Withdraw(ctx context.Context, callerIdentity string, lockedSavingID uuid.UUID) (*WithdrawResult, error) {
	tracer := otel.Tracer("savings-service")
	ctx, span := tracer.Start(ctx, "Withdraw")
	defer span.End()

	saving, err := s.savingRepo.GetByID(ctx, lockedSavingID)
	if err != nil {
		span.SetStatus(codes.Error, "locked saving not found")
		return nil, err
	}

	account, err := s.accountRepo.GetByID(ctx, saving.AccountID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "account not found")
		return nil, err
	}
	if account.OwnerIdentity != callerIdentity {
		span.SetStatus(codes.Error, "saving does not belong to caller")
		return nil, fmt.Errorf("%w: locked saving %s", pkgerrors.ErrNotFound, lockedSavingID)
	}

	if saving.Status != models.SavingLocked {
		span.SetStatus(codes.Error, "not locked")
		return nil, fmt.Errorf("%w: locked saving %s is %s", pkgerrors.ErrLockNotActive, lockedSavingID, saving.Status)
	}

	// Serialize concurrent withdrawals before dispatching the payout; a
	// double provider call would pay out twice.
	lockKey := fmt.Sprintf("saving:%s:lock", lockedSavingID)
	ok, err := s.redisClient.SetNX(ctx, lockKey, "locked", 10*time.Second)
	if err != nil || !ok {
		span.SetStatus(codes.Error, "saving locked by another operation")
		return nil, pkgerrors.ErrBalanceLocked
	}
	defer s.redisClient.Del(ctx, lockKey)

	now := time.Now().UTC()
	penalty := decimal.Zero
	if now.Before(saving.EndDate) {
		penalty = saving.Amount.Mul(s.penaltyRate).Round(2)
	}
	payoutAmount := saving.Amount.Sub(penalty)

	// Provider first. If the payout fails the saving stays Locked and the
	// operation is retryable; Withdrawn is only reachable through a
	// confirmed payout.
	payoutRef, err := s.payout.SendPayout(ctx, saving.AccountID, payoutAmount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payout failed")
		slog.Error("payout failed, saving stays locked", "locked_saving_id", lockedSavingID, "error", err)
		return nil, err
	}

	if err := s.savingRepo.MarkWithdrawn(ctx, lockedSavingID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark withdrawn")
		return nil, err
	}
	saving.Status = models.SavingWithdrawn

	if penalty.IsPositive() {
		penaltyTx := &models.Transaction{
			Type:              models.TypePenalty,
			Amount:            penalty,
			Fee:               decimal.Zero,
			SenderIdentity:    account.OwnerIdentity,
			RecipientIdentity: account.OwnerIdentity,
			SourceAccountID:   uuid.NullUUID{UUID: saving.AccountID, Valid: true},
			Status:            models.StatusCompleted,
			Description:       "early withdrawal penalty",
		}
		if err := s.txRepo.Create(ctx, penaltyTx); err != nil {
			slog.Error("failed to append penalty entry", "locked_saving_id", lockedSavingID, "error", err)
		}
	}

	s.publishEvent(ctx, "saving.withdrawn", saving)
	slog.Info("saving withdrawn", "locked_saving_id", lockedSavingID, "payout", payoutAmount,
		"penalty", penalty, "payout_ref", payoutRef)
	return &WithdrawResult{Saving: saving, Payout: payoutAmount, Penalty: penalty}, nil
}

func (s *savingsService) ListByAccount(ctx context.Context, callerIdentity string, accountID uuid.UUID) ([]models.LockedSaving, error) {
	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.OwnerIdentity != callerIdentity {
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrInvalidAccount, accountID)
	}
	return s.savingRepo.ListByAccount(ctx, accountID)
}
