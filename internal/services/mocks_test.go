package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mkorenev/geopay/internal/models"
	"github.com/mkorenev/geopay/internal/provider"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type mockAccountRepo struct{ mock.Mock }

func (m *mockAccountRepo) Create(ctx context.Context, account *models.Account) error {
	return m.Called(ctx, account).Error(0)
}

func (m *mockAccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	args := m.Called(ctx, id)
	if acc, ok := args.Get(0).(*models.Account); ok {
		return acc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAccountRepo) GetByOwnerIdentity(ctx context.Context, identity string) (*models.Account, error) {
	args := m.Called(ctx, identity)
	if acc, ok := args.Get(0).(*models.Account); ok {
		return acc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAccountRepo) SetBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	return m.Called(ctx, id, balance).Error(0)
}

func (m *mockAccountRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type mockTransactionRepo struct{ mock.Mock }

func (m *mockTransactionRepo) Create(ctx context.Context, tx *models.Transaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *mockTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	if tx, ok := args.Get(0).(*models.Transaction); ok {
		return tx, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTransactionRepo) ListByIdentity(ctx context.Context, identity string) ([]models.Transaction, error) {
	args := m.Called(ctx, identity)
	if txs, ok := args.Get(0).([]models.Transaction); ok {
		return txs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTransactionRepo) MarkReturned(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockTransactionRepo) MarkDeclined(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockTransactionRepo) SettleClaim(ctx context.Context, tx *models.Transaction, destinationAccountID uuid.UUID) error {
	args := m.Called(ctx, tx, destinationAccountID)
	if args.Error(0) == nil {
		tx.Status = models.StatusCompleted
		tx.DestinationAccountID = uuid.NullUUID{UUID: destinationAccountID, Valid: true}
	}
	return args.Error(0)
}

func (m *mockTransactionRepo) SettleApproval(ctx context.Context, tx *models.Transaction, payerAccountID uuid.UUID, requesterAccountID uuid.NullUUID) error {
	args := m.Called(ctx, tx, payerAccountID, requesterAccountID)
	if args.Error(0) == nil {
		tx.Status = models.StatusCompleted
		tx.SourceAccountID = uuid.NullUUID{UUID: payerAccountID, Valid: true}
	}
	return args.Error(0)
}

type mockSavingRepo struct{ mock.Mock }

func (m *mockSavingRepo) Create(ctx context.Context, saving *models.LockedSaving) error {
	return m.Called(ctx, saving).Error(0)
}

func (m *mockSavingRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.LockedSaving, error) {
	args := m.Called(ctx, id)
	if s, ok := args.Get(0).(*models.LockedSaving); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSavingRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.LockedSaving, error) {
	args := m.Called(ctx, accountID)
	if s, ok := args.Get(0).([]models.LockedSaving); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSavingRepo) MarkLocked(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockSavingRepo) MarkWithdrawn(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockSavingRepo) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockSavingRepo) CountNotWithdrawn(ctx context.Context, accountID uuid.UUID) (int, error) {
	args := m.Called(ctx, accountID)
	return args.Int(0), args.Error(1)
}

type mockRedis struct{ mock.Mock }

func (m *mockRedis) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *mockRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.Called(ctx, key, value, expiration).Error(0)
}

func (m *mockRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	args := m.Called(ctx, key, value, expiration)
	return args.Bool(0), args.Error(1)
}

func (m *mockRedis) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockRedis) Close() error { return m.Called().Error(0) }

type mockProducer struct{ mock.Mock }

func (m *mockProducer) Send(ctx context.Context, topic string, key string, value []byte) error {
	return m.Called(ctx, topic, key, value).Error(0)
}

func (m *mockProducer) Close() error { return m.Called().Error(0) }

type mockCaptureProvider struct{ mock.Mock }

func (m *mockCaptureProvider) OpenOrder(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*provider.CaptureOrder, error) {
	args := m.Called(ctx, accountID, amount)
	if order, ok := args.Get(0).(*provider.CaptureOrder); ok {
		return order, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockPayoutProvider struct{ mock.Mock }

func (m *mockPayoutProvider) SendPayout(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, accountID, amount)
	return args.String(0), args.Error(1)
}

type mockBalanceSource struct{ mock.Mock }

func (m *mockBalanceSource) CurrentBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, accountID)
	if d, ok := args.Get(0).(decimal.Decimal); ok {
		return d, args.Error(1)
	}
	return decimal.Zero, args.Error(1)
}

func knownBalance(v string) decimal.NullDecimal {
	d, _ := decimal.NewFromString(v)
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func dec(v string) decimal.Decimal {
	d, _ := decimal.NewFromString(v)
	return d
}
