package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/google/uuid"
	"github.com/mkorenev/geopay/internal/geo"
	"github.com/mkorenev/geopay/internal/infrastructure/kafka"
	"github.com/mkorenev/geopay/internal/infrastructure/observability"
	"github.com/mkorenev/geopay/internal/infrastructure/redis"
	"github.com/mkorenev/geopay/internal/models"
	"github.com/mkorenev/geopay/internal/repository"
	pkgerrors "github.com/mkorenev/geopay/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const ledgerEventsTopic = "ledger-events"

// TransferService owns the transfer state machine: the lifecycle of send and
// request transactions from Pending to their terminal status, including the
// fence/expiry evaluation order and the atomic settlement.
type TransferService interface {
	CreateSend(ctx context.Context, senderIdentity string, senderAccountID uuid.UUID, recipientIdentity string, amount decimal.Decimal, description string, fence *models.GeoFence, restriction *models.TimeRestriction, requestID string) (*models.Transaction, error)
	CreateRequest(ctx context.Context, requesterIdentity, payerIdentity string, amount decimal.Decimal, description string, requestID string) (*models.Transaction, error)
	Claim(ctx context.Context, transactionID uuid.UUID, claimantIdentity string, destinationAccountID uuid.UUID, coords *models.Coordinate) (*models.Transaction, error)
	ApproveRequest(ctx context.Context, transactionID uuid.UUID, payerIdentity string, payerAccountID uuid.UUID) (*models.Transaction, error)
	DeclineRequest(ctx context.Context, transactionID uuid.UUID, payerIdentity string) (*models.Transaction, error)
	History(ctx context.Context, identity string) ([]models.Transaction, error)
}

type transferService struct {
	accountRepo repository.AccountRepository
	txRepo      repository.TransactionRepository
	redisClient redis.RedisClient
	producer    kafka.KafkaProducer
	feeRate     decimal.Decimal
}

func NewTransferService(
	accountRepo repository.AccountRepository,
	txRepo repository.TransactionRepository,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
	feeRate decimal.Decimal,
) *transferService {
	return &transferService{
		accountRepo: accountRepo,
		txRepo:      txRepo,
		redisClient: redisClient,
		producer:    producer,
		feeRate:     feeRate,
	}
}

// publishEvent is fire-and-forget bookkeeping after a committed transition.
// A broker hiccup must never unwind a settlement, so failures are only
// logged.
func (s *transferService) publishEvent(ctx context.Context, eventType string, tx *models.Transaction) {
	event := map[string]interface{}{
		"event_type":     eventType,
		"transaction_id": tx.ID.String(),
		"type":           tx.Type,
		"status":         tx.Status,
		"amount":         tx.Amount,
		"fee":            tx.Fee,
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal ledger event", "transaction_id", tx.ID, "error", err)
		return
	}
	if err := s.producer.Send(ctx, ledgerEventsTopic, tx.ID.String(), eventBytes); err != nil {
		slog.Error("failed to publish ledger event", "event_type", eventType, "transaction_id", tx.ID, "error", err)
	}
}

// reserveRequestID guards creation ops against replays; the key lives a day,
// like any retried client request reasonably would.
func (s *transferService) reserveRequestID(ctx context.Context, requestID string) (func(), error) {
	requestKey := fmt.Sprintf("request:%s", requestID)
	if _, err := s.redisClient.Get(ctx, requestKey); err == nil {
		return nil, pkgerrors.ErrRequestAlreadyProcessed
	}
	if err := s.redisClient.Set(ctx, requestKey, "pending", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("failed to set request key: %w", err)
	}
	release := func() { s.redisClient.Del(ctx, requestKey) }
	return release, nil
}

func (s *transferService) CreateSend(ctx context.Context, senderIdentity string, senderAccountID uuid.UUID, recipientIdentity string, amount decimal.Decimal, description string, fence *models.GeoFence, restriction *models.TimeRestriction, requestID string) (*models.Transaction, error) {
	tracer := otel.Tracer("transfer-service")
	ctx, span := tracer.Start(ctx, "CreateSend")
	defer span.End()

	if amount.LessThanOrEqual(decimal.Zero) {
		span.SetStatus(codes.Error, "invalid amount")
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrInvalidAmount, amount)
	}
	if recipientIdentity == "" {
		span.SetStatus(codes.Error, "missing recipient")
		return nil, fmt.Errorf("%w: recipient identity is required", pkgerrors.ErrInvalidInput)
	}
	if err := geo.ValidateFence(fence); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed fence")
		return nil, err
	}
	if restriction != nil && !restriction.ExpiresAt.After(time.Now()) {
		span.SetStatus(codes.Error, "expiry in the past")
		return nil, fmt.Errorf("%w: restriction expires in the past", pkgerrors.ErrInvalidInput)
	}

	releaseRequest, err := s.reserveRequestID(ctx, requestID)
	if err != nil {
		span.SetStatus(codes.Error, "request already processed")
		return nil, err
	}

	account, err := s.accountRepo.GetByID(ctx, senderAccountID)
	if err != nil {
		releaseRequest()
		span.RecordError(err)
		span.SetStatus(codes.Error, "sender account not found")
		slog.Error("sender account not found", "account_id", senderAccountID, "error", err)
		return nil, err
	}
	if account.OwnerIdentity != senderIdentity {
		releaseRequest()
		span.SetStatus(codes.Error, "account does not belong to caller")
		slog.Warn("send from foreign account rejected", "account_id", senderAccountID, "caller", senderIdentity)
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrInvalidAccount, senderAccountID)
	}

	fee := amount.Mul(s.feeRate).Round(2)
	required := amount.Add(fee)

	// No reservation: the balance is only validated here and re-validated at
	// claim time. The sender can spend below the committed amount in
	// between, which makes the later claim fail. Known product tradeoff.
	if !account.Balance.Valid || account.Balance.Decimal.LessThan(required) {
		releaseRequest()
		span.SetStatus(codes.Error, "insufficient funds")
		slog.Error("insufficient funds for send", "account_id", senderAccountID,
			"balance", account.Balance, "required", required)
		return nil, fmt.Errorf("%w: need %s", pkgerrors.ErrInsufficientFunds, required)
	}

	tx := &models.Transaction{
		Type:              models.TypeSend,
		Amount:            amount,
		Fee:               fee,
		SenderIdentity:    senderIdentity,
		RecipientIdentity: recipientIdentity,
		SourceAccountID:   uuid.NullUUID{UUID: senderAccountID, Valid: true},
		Status:            models.StatusPending,
		Fence:             fence,
		Restriction:       restriction,
		Description:       description,
	}
	if err := s.txRepo.Create(ctx, tx); err != nil {
		releaseRequest()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create transaction")
		return nil, err
	}

	slog.Info("send created", "transaction_id", tx.ID, "sender", senderIdentity,
		"recipient", recipientIdentity, "amount", amount, "fee", fee,
		"fenced", fence != nil, "expires", restriction != nil)
	return tx, nil
}

func (s *transferService) CreateRequest(ctx context.Context, requesterIdentity, payerIdentity string, amount decimal.Decimal, description string, requestID string) (*models.Transaction, error) {
	tracer := otel.Tracer("transfer-service")
	ctx, span := tracer.Start(ctx, "CreateRequest")
	defer span.End()

	if amount.LessThanOrEqual(decimal.Zero) {
		span.SetStatus(codes.Error, "invalid amount")
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrInvalidAmount, amount)
	}
	if requesterIdentity == "" || payerIdentity == "" {
		span.SetStatus(codes.Error, "missing identity")
		return nil, fmt.Errorf("%w: requester and payer identities are required", pkgerrors.ErrInvalidInput)
	}
	if requesterIdentity == payerIdentity {
		span.SetStatus(codes.Error, "self request")
		return nil, fmt.Errorf("%w: cannot request money from yourself", pkgerrors.ErrInvalidInput)
	}

	releaseRequest, err := s.reserveRequestID(ctx, requestID)
	if err != nil {
		span.SetStatus(codes.Error, "request already processed")
		return nil, err
	}

	// The payer pays, the requester receives.
	tx := &models.Transaction{
		Type:              models.TypeRequest,
		Amount:            amount,
		Fee:               decimal.Zero,
		SenderIdentity:    payerIdentity,
		RecipientIdentity: requesterIdentity,
		Status:            models.StatusPending,
		Description:       description,
	}
	if err := s.txRepo.Create(ctx, tx); err != nil {
		releaseRequest()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create transaction")
		return nil, err
	}

	slog.Info("request created", "transaction_id", tx.ID, "requester", requesterIdentity,
		"payer", payerIdentity, "amount", amount)
	return tx, nil
}

// Claim drives a pending send to a terminal state. The check order is fixed:
// existence/type/recipient, then expiry, then fence, then funds. An expired
// out-of-fence claim reports Expired, an in-fence underfunded claim reports
// InsufficientFunds only after geometry and time both passed.
func (s *transferService) Claim(ctx context.Context, transactionID uuid.UUID, claimantIdentity string, destinationAccountID uuid.UUID, coords *models.Coordinate) (*models.Transaction, error) {
	tracer := otel.Tracer("transfer-service")
	ctx, span := tracer.Start(ctx, "Claim")
	defer span.End()

	tx, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		span.SetStatus(codes.Error, "transaction not found")
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrNotClaimable, err)
	}
	if tx.Type != models.TypeSend || tx.RecipientIdentity != claimantIdentity {
		span.SetStatus(codes.Error, "not claimable")
		slog.Warn("claim rejected", "transaction_id", transactionID, "claimant", claimantIdentity,
			"type", tx.Type)
		return nil, fmt.Errorf("%w: transaction %s", pkgerrors.ErrNotClaimable, transactionID)
	}
	if tx.Status == models.StatusCompleted {
		// Idempotent re-claim: the money already moved exactly once.
		slog.Info("re-claim of completed transaction", "transaction_id", transactionID)
		return tx, nil
	}
	if tx.Status != models.StatusPending {
		span.SetStatus(codes.Error, "not pending")
		return nil, fmt.Errorf("%w: transaction %s is %s", pkgerrors.ErrNotClaimable, transactionID, tx.Status)
	}

	// Expiry discovered during a claim is a state transition, not just a
	// read: the transfer closes permanently as Returned.
	if geo.IsExpired(tx.Restriction, time.Now()) {
		if err := s.txRepo.MarkReturned(ctx, transactionID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to return expired transaction")
			return nil, err
		}
		tx.Status = models.StatusReturned
		observability.SettlementsTotal.WithLabelValues(string(models.StatusReturned)).Inc()
		s.publishEvent(ctx, "transfer.returned", tx)
		span.SetStatus(codes.Error, "expired")
		slog.Info("expired transfer returned", "transaction_id", transactionID)
		return nil, fmt.Errorf("%w: transaction %s", pkgerrors.ErrExpired, transactionID)
	}

	if tx.Fence != nil {
		if coords == nil {
			span.SetStatus(codes.Error, "location required")
			return nil, fmt.Errorf("%w: transaction %s has a geofence", pkgerrors.ErrLocationRequired, transactionID)
		}
		inside, err := geo.IsWithinFence(*coords, tx.Fence)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fence evaluation failed")
			return nil, err
		}
		if !inside {
			// Pending survives: the claimant can retry from inside the
			// fence until the transfer expires.
			span.SetStatus(codes.Error, "outside fence")
			slog.Info("claim outside fence", "transaction_id", transactionID,
				"location_name", tx.Fence.LocationName)
			return nil, fmt.Errorf("%w: transaction %s", pkgerrors.ErrOutsideFence, transactionID)
		}
	}

	destination, err := s.accountRepo.GetByID(ctx, destinationAccountID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "destination account not found")
		return nil, err
	}
	if destination.OwnerIdentity != claimantIdentity {
		span.SetStatus(codes.Error, "destination does not belong to claimant")
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrInvalidAccount, destinationAccountID)
	}

	lockKeys := []string{
		fmt.Sprintf("account:%s:lock", tx.SourceAccountID.UUID),
		fmt.Sprintf("account:%s:lock", destinationAccountID),
	}
	release, err := s.acquireLocks(ctx, lockKeys)
	if err != nil {
		span.SetStatus(codes.Error, "balance locked")
		return nil, err
	}
	defer release()

	// Re-validate the sender balance before settling; nothing was reserved
	// at send time. SettleClaim repeats this check atomically inside the
	// database transaction, this read just produces the friendlier error
	// without burning the status CAS.
	sender, err := s.accountRepo.GetByID(ctx, tx.SourceAccountID.UUID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sender account not found")
		return nil, err
	}
	required := tx.Amount.Add(tx.Fee)
	if !sender.Balance.Valid || sender.Balance.Decimal.LessThan(required) {
		span.SetStatus(codes.Error, "insufficient funds")
		slog.Error("insufficient funds at claim", "transaction_id", transactionID,
			"balance", sender.Balance, "required", required)
		return nil, fmt.Errorf("%w: need %s", pkgerrors.ErrInsufficientFunds, required)
	}

	if err := s.txRepo.SettleClaim(ctx, tx, destinationAccountID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settlement failed")
		slog.Error("claim settlement failed", "transaction_id", transactionID, "error", err)
		return nil, err
	}

	observability.SettlementsTotal.WithLabelValues(string(models.StatusCompleted)).Inc()
	s.publishEvent(ctx, "transfer.completed", tx)
	slog.Info("claim settled", "transaction_id", transactionID, "claimant", claimantIdentity,
		"destination_account_id", destinationAccountID)
	return tx, nil
}

func (s *transferService) ApproveRequest(ctx context.Context, transactionID uuid.UUID, payerIdentity string, payerAccountID uuid.UUID) (*models.Transaction, error) {
	tracer := otel.Tracer("transfer-service")
	ctx, span := tracer.Start(ctx, "ApproveRequest")
	defer span.End()

	tx, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		span.SetStatus(codes.Error, "transaction not found")
		return nil, err
	}
	if tx.Type != models.TypeRequest || tx.SenderIdentity != payerIdentity {
		span.SetStatus(codes.Error, "not the addressed payer")
		return nil, fmt.Errorf("%w: transaction %s", pkgerrors.ErrNotFound, transactionID)
	}
	if tx.Status == models.StatusCompleted {
		return tx, nil
	}
	if tx.Status != models.StatusPending {
		span.SetStatus(codes.Error, "not pending")
		return nil, fmt.Errorf("%w: transaction %s is %s", pkgerrors.ErrNotClaimable, transactionID, tx.Status)
	}

	payer, err := s.accountRepo.GetByID(ctx, payerAccountID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payer account not found")
		return nil, err
	}
	if payer.OwnerIdentity != payerIdentity {
		span.SetStatus(codes.Error, "account does not belong to payer")
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrInvalidAccount, payerAccountID)
	}

	// No fee on approvals.
	if !payer.Balance.Valid || payer.Balance.Decimal.LessThan(tx.Amount) {
		span.SetStatus(codes.Error, "insufficient funds")
		return nil, fmt.Errorf("%w: need %s", pkgerrors.ErrInsufficientFunds, tx.Amount)
	}

	// The requester may not have a connected account; the request still
	// completes and their history shows the completed row.
	var requesterAccountID uuid.NullUUID
	if requester, err := s.accountRepo.GetByOwnerIdentity(ctx, tx.RecipientIdentity); err == nil {
		requesterAccountID = uuid.NullUUID{UUID: requester.ID, Valid: true}
	} else if !stderrors.Is(err, pkgerrors.ErrInvalidAccount) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "requester lookup failed")
		return nil, err
	}

	lockKeys := []string{fmt.Sprintf("account:%s:lock", payerAccountID)}
	if requesterAccountID.Valid {
		lockKeys = append(lockKeys, fmt.Sprintf("account:%s:lock", requesterAccountID.UUID))
	}
	release, err := s.acquireLocks(ctx, lockKeys)
	if err != nil {
		span.SetStatus(codes.Error, "balance locked")
		return nil, err
	}
	defer release()

	if err := s.txRepo.SettleApproval(ctx, tx, payerAccountID, requesterAccountID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "approval settlement failed")
		return nil, err
	}

	observability.SettlementsTotal.WithLabelValues(string(models.StatusCompleted)).Inc()
	s.publishEvent(ctx, "transfer.completed", tx)
	slog.Info("request approved", "transaction_id", transactionID, "payer", payerIdentity)
	return tx, nil
}

func (s *transferService) DeclineRequest(ctx context.Context, transactionID uuid.UUID, payerIdentity string) (*models.Transaction, error) {
	tracer := otel.Tracer("transfer-service")
	ctx, span := tracer.Start(ctx, "DeclineRequest")
	defer span.End()

	tx, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		span.SetStatus(codes.Error, "transaction not found")
		return nil, err
	}
	if tx.Type != models.TypeRequest || tx.SenderIdentity != payerIdentity {
		span.SetStatus(codes.Error, "not the addressed payer")
		return nil, fmt.Errorf("%w: transaction %s", pkgerrors.ErrNotFound, transactionID)
	}
	if tx.Status == models.StatusDeclined {
		return tx, nil
	}
	if tx.Status != models.StatusPending {
		span.SetStatus(codes.Error, "not pending")
		return nil, fmt.Errorf("%w: transaction %s is %s", pkgerrors.ErrNotClaimable, transactionID, tx.Status)
	}

	if err := s.txRepo.MarkDeclined(ctx, transactionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decline failed")
		return nil, err
	}

	tx.Status = models.StatusDeclined
	slog.Info("request declined", "transaction_id", transactionID, "payer", payerIdentity)
	return tx, nil
}

func (s *transferService) History(ctx context.Context, identity string) ([]models.Transaction, error) {
	tracer := otel.Tracer("transfer-service")
	ctx, span := tracer.Start(ctx, "History")
	defer span.End()

	txs, err := s.txRepo.ListByIdentity(ctx, identity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history lookup failed")
		slog.Error("failed to get transaction history", "identity", identity, "error", err)
		return nil, err
	}
	slog.Info("transaction history retrieved", "identity", identity, "count", len(txs))
	return txs, nil
}

// acquireLocks takes short SetNX locks on every key, releasing the ones
// already taken when any acquisition fails.
func (s *transferService) acquireLocks(ctx context.Context, keys []string) (func(), error) {
	var held []string
	release := func() {
		for _, k := range held {
			s.redisClient.Del(ctx, k)
		}
	}
	for _, key := range keys {
		ok, err := s.redisClient.SetNX(ctx, key, "locked", 3*time.Second)
		if err != nil {
			release()
			slog.Error("failed to acquire lock", "lock_key", key, "error", err)
			return nil, pkgerrors.ErrBalanceLocked
		}
		if !ok {
			release()
			slog.Warn("balance is locked", "lock_key", key)
			return nil, pkgerrors.ErrBalanceLocked
		}
		held = append(held, key)
	}
	return release, nil
}
