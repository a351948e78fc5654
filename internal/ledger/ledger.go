// Package ledger holds the balance-mutation primitives. Both operations run
// against a Querier so callers can compose them with status writes inside a
// single database transaction: either the whole unit commits or none of it.
package ledger

import (
	"context"
	"database/sql"
	"fmt"

	stderrors "errors"

	"github.com/google/uuid"
	pkgerrors "github.com/mkorenev/geopay/pkg/errors"
	"github.com/shopspring/decimal"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Debit decrements the account balance by amount in one conditional update.
// An unknown (null) balance never authorizes a debit, and the guard inside
// the statement makes the read-check-write atomic, so two concurrent debits
// cannot drive the balance negative.
func Debit(ctx context.Context, q Querier, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: debit of %s", pkgerrors.ErrInvalidAmount, amount)
	}

	query := `
		UPDATE accounts
		SET balance = balance - $1
		WHERE id = $2 AND balance IS NOT NULL AND balance >= $1
		RETURNING balance
	`
	var newBalance decimal.Decimal
	err := q.QueryRowContext(ctx, query, amount, accountID).Scan(&newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
			return decimal.Zero, fmt.Errorf("failed to check account %s: %w", accountID, err)
		}
		if !exists {
			return decimal.Zero, fmt.Errorf("%w: %s", pkgerrors.ErrInvalidAccount, accountID)
		}
		return decimal.Zero, fmt.Errorf("%w: account %s needs %s", pkgerrors.ErrInsufficientFunds, accountID, amount)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to debit account %s: %w", accountID, err)
	}
	return newBalance, nil
}

// Credit increments the account balance by amount. A null balance is treated
// as zero first, so a credit can initialize an unknown balance.
func Credit(ctx context.Context, q Querier, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: credit of %s", pkgerrors.ErrInvalidAmount, amount)
	}

	query := `
		UPDATE accounts
		SET balance = COALESCE(balance, 0) + $1
		WHERE id = $2
		RETURNING balance
	`
	var newBalance decimal.Decimal
	err := q.QueryRowContext(ctx, query, amount, accountID).Scan(&newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %s", pkgerrors.ErrInvalidAccount, accountID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to credit account %s: %w", accountID, err)
	}
	return newBalance, nil
}
