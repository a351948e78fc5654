package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mkorenev/geopay/internal/models"
	pkgerrors "github.com/mkorenev/geopay/pkg/errors"
	"github.com/shopspring/decimal"
)

type PostgresAccountRepository struct {
	db *sql.DB
}

func NewPostgresAccountRepository(db *sql.DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

func (r *PostgresAccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account == nil {
		return fmt.Errorf("%w: account is nil", pkgerrors.ErrInvalidInput)
	}
	if account.OwnerIdentity == "" {
		return fmt.Errorf("%w: owner identity is required", pkgerrors.ErrInvalidInput)
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}

	// A new connection starts with an unknown balance; the first
	// BalanceSource sync turns it into a number.
	query := `
	INSERT INTO accounts (id, owner_identity, balance)
	VALUES ($1, $2, $3)
	RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query, account.ID, account.OwnerIdentity, account.Balance).
		Scan(&account.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *PostgresAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `SELECT id, owner_identity, balance, created_at FROM accounts WHERE id = $1`

	var account models.Account
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&account.ID,
		&account.OwnerIdentity,
		&account.Balance,
		&account.CreatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrInvalidAccount, id)
	case err != nil:
		return nil, fmt.Errorf("failed to get account by id: %w", err)
	}
	return &account, nil
}

func (r *PostgresAccountRepository) GetByOwnerIdentity(ctx context.Context, identity string) (*models.Account, error) {
	if identity == "" {
		return nil, fmt.Errorf("%w: identity cannot be empty", pkgerrors.ErrInvalidInput)
	}

	query := `SELECT id, owner_identity, balance, created_at FROM accounts WHERE owner_identity = $1`

	var account models.Account
	err := r.db.QueryRowContext(ctx, query, identity).Scan(
		&account.ID,
		&account.OwnerIdentity,
		&account.Balance,
		&account.CreatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: identity %q", pkgerrors.ErrInvalidAccount, identity)
	case err != nil:
		return nil, fmt.Errorf("failed to get account by identity: %w", err)
	}
	return &account, nil
}

func (r *PostgresAccountRepository) SetBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	query := `UPDATE accounts SET balance = $1 WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, balance, id)
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", pkgerrors.ErrInvalidAccount, id)
	}
	return nil
}

func (r *PostgresAccountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", pkgerrors.ErrInvalidAccount, id)
	}
	return nil
}
