package ledger_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/mkorenev/geopay/internal/ledger"
	pkgerrors "github.com/mkorenev/geopay/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	debitQuery  = regexp.QuoteMeta(`UPDATE accounts`)
	existsQuery = regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`)
)

func TestDebit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	accountID := uuid.New()

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(debitQuery).
			WithArgs(decimal.NewFromFloat(103), accountID).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("397.00"))

		balance, err := ledger.Debit(ctx, db, accountID, decimal.NewFromFloat(103))
		require.NoError(t, err)
		assert.True(t, balance.Equal(decimal.NewFromFloat(397)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient or null balance", func(t *testing.T) {
		mock.ExpectQuery(debitQuery).
			WithArgs(decimal.NewFromFloat(103), accountID).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))
		mock.ExpectQuery(existsQuery).
			WithArgs(accountID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := ledger.Debit(ctx, db, accountID, decimal.NewFromFloat(103))
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectQuery(debitQuery).
			WithArgs(decimal.NewFromFloat(103), accountID).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))
		mock.ExpectQuery(existsQuery).
			WithArgs(accountID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := ledger.Debit(ctx, db, accountID, decimal.NewFromFloat(103))
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAccount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := ledger.Debit(ctx, db, accountID, decimal.Zero)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)

		_, err = ledger.Debit(ctx, db, accountID, decimal.NewFromFloat(-5))
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	})
}

func TestCredit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	accountID := uuid.New()

	t.Run("success initializes null balance", func(t *testing.T) {
		mock.ExpectQuery(debitQuery).
			WithArgs(decimal.NewFromFloat(100), accountID).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("100.00"))

		balance, err := ledger.Credit(ctx, db, accountID, decimal.NewFromFloat(100))
		require.NoError(t, err)
		assert.True(t, balance.Equal(decimal.NewFromFloat(100)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectQuery(debitQuery).
			WithArgs(decimal.NewFromFloat(100), accountID).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))

		_, err := ledger.Credit(ctx, db, accountID, decimal.NewFromFloat(100))
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAccount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := ledger.Credit(ctx, db, accountID, decimal.Zero)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	})
}
