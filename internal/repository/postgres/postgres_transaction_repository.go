package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mkorenev/geopay/internal/infrastructure/observability"
	"github.com/mkorenev/geopay/internal/ledger"
	"github.com/mkorenev/geopay/internal/models"
	pkgerrors "github.com/mkorenev/geopay/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

func (r *PostgresTransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "CreateTransaction")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateTransaction", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateTransaction").Observe(time.Since(start).Seconds())
	}()

	if tx == nil {
		err = fmt.Errorf("%w: transaction is nil", pkgerrors.ErrInvalidInput)
		return err
	}
	if !tx.Type.Valid() {
		err = fmt.Errorf("%w: transaction type %q", pkgerrors.ErrInvalidInput, tx.Type)
		slog.Error("invalid transaction type", "method", "Create", "type", tx.Type)
		return err
	}
	if !tx.Status.Valid() {
		err = fmt.Errorf("%w: transaction status %q", pkgerrors.ErrInvalidInput, tx.Status)
		slog.Error("invalid transaction status", "method", "Create", "status", tx.Status)
		return err
	}
	if tx.Amount.LessThanOrEqual(decimal.Zero) {
		err = fmt.Errorf("%w: %s", pkgerrors.ErrInvalidAmount, tx.Amount)
		slog.Error("amount must be positive", "method", "Create", "amount", tx.Amount)
		return err
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}

	span.SetAttributes(
		attribute.String("transaction_id", tx.ID.String()),
		attribute.String("type", string(tx.Type)),
		attribute.String("status", string(tx.Status)),
	)

	var fenceJSON interface{}
	if tx.Fence != nil {
		var b []byte
		b, err = json.Marshal(tx.Fence)
		if err != nil {
			return fmt.Errorf("failed to marshal fence: %w", err)
		}
		fenceJSON = b
	}
	var expiresAt sql.NullTime
	if tx.Restriction != nil {
		expiresAt = sql.NullTime{Time: tx.Restriction.ExpiresAt, Valid: true}
	}

	query := `
	INSERT INTO transactions
		(id, type, amount, fee, sender_identity, recipient_identity,
		 source_account_id, destination_account_id, status, fence,
		 restriction_expires_at, description)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING created_at
	`
	err = r.db.QueryRowContext(ctx, query,
		tx.ID, tx.Type, tx.Amount, tx.Fee, tx.SenderIdentity, tx.RecipientIdentity,
		tx.SourceAccountID, tx.DestinationAccountID, tx.Status, fenceJSON,
		expiresAt, tx.Description,
	).Scan(&tx.CreatedAt)
	if err != nil {
		slog.Error("failed to create transaction", "method", "Create", "transaction_id", tx.ID, "type", tx.Type, "error", err)
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	slog.Info("transaction created", "method", "Create", "transaction_id", tx.ID, "type", tx.Type, "status", tx.Status)
	return nil
}

const transactionColumns = `id, type, amount, fee, sender_identity, recipient_identity,
	source_account_id, destination_account_id, status, fence, restriction_expires_at,
	description, created_at`

func scanTransaction(row interface {
	Scan(dest ...interface{}) error
}) (*models.Transaction, error) {
	var tx models.Transaction
	var fenceJSON []byte
	var expiresAt sql.NullTime
	err := row.Scan(
		&tx.ID, &tx.Type, &tx.Amount, &tx.Fee, &tx.SenderIdentity, &tx.RecipientIdentity,
		&tx.SourceAccountID, &tx.DestinationAccountID, &tx.Status, &fenceJSON,
		&expiresAt, &tx.Description, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(fenceJSON) > 0 {
		var fence models.GeoFence
		if err := json.Unmarshal(fenceJSON, &fence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fence: %w", err)
		}
		tx.Fence = &fence
	}
	if expiresAt.Valid {
		tx.Restriction = &models.TimeRestriction{ExpiresAt: expiresAt.Time}
	}
	return &tx, nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", pkgerrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}
	return tx, nil
}

func (r *PostgresTransactionRepository) ListByIdentity(ctx context.Context, identity string) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE sender_identity = $1 OR recipient_identity = $1
		ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// casStatus flips pending → next for a single transaction id. Zero rows
// means the row is gone or already terminal.
func (r *PostgresTransactionRepository) casStatus(ctx context.Context, id uuid.UUID, next models.StatusType) error {
	query := `UPDATE transactions SET status = $2 WHERE id = $1 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, id, next, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: transaction %s is not pending", pkgerrors.ErrNotClaimable, id)
	}
	return nil
}

func (r *PostgresTransactionRepository) MarkReturned(ctx context.Context, id uuid.UUID) error {
	return r.casStatus(ctx, id, models.StatusReturned)
}

func (r *PostgresTransactionRepository) MarkDeclined(ctx context.Context, id uuid.UUID) error {
	return r.casStatus(ctx, id, models.StatusDeclined)
}

func (r *PostgresTransactionRepository) SettleClaim(ctx context.Context, tx *models.Transaction, destinationAccountID uuid.UUID) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "SettleClaim")
	span.SetAttributes(attribute.String("transaction_id", tx.ID.String()))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("SettleClaim", status).Inc()
		observability.RepositoryDuration.WithLabelValues("SettleClaim").Observe(time.Since(start).Seconds())
	}()

	if !tx.SourceAccountID.Valid {
		err = fmt.Errorf("%w: send %s has no source account", pkgerrors.ErrInternal, tx.ID)
		return err
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	// Status CAS first: the row lock it takes serializes concurrent claims,
	// and the loser observes a non-pending status.
	res, err := dbTx.ExecContext(ctx,
		`UPDATE transactions SET status = $2, destination_account_id = $3 WHERE id = $1 AND status = $4`,
		tx.ID, models.StatusCompleted, destinationAccountID, models.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to complete transaction: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete transaction: %w", err)
	}
	if rows == 0 {
		err = fmt.Errorf("%w: transaction %s is not pending", pkgerrors.ErrNotClaimable, tx.ID)
		return err
	}

	if _, err = ledger.Debit(ctx, dbTx, tx.SourceAccountID.UUID, tx.Amount.Add(tx.Fee)); err != nil {
		return err
	}
	if _, err = ledger.Credit(ctx, dbTx, destinationAccountID, tx.Amount); err != nil {
		return err
	}

	// Mirror row: the same economic event from the recipient's side. Not a
	// balance mutation, just a second ledger-of-record entry.
	_, err = dbTx.ExecContext(ctx,
		`INSERT INTO transactions
			(id, type, amount, fee, sender_identity, recipient_identity,
			 source_account_id, destination_account_id, status, description)
		VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $8, $9)`,
		uuid.New(), models.TypeReceive, tx.Amount, tx.SenderIdentity, tx.RecipientIdentity,
		tx.SourceAccountID, destinationAccountID, models.StatusCompleted, tx.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to append receive entry: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}

	tx.Status = models.StatusCompleted
	tx.DestinationAccountID = uuid.NullUUID{UUID: destinationAccountID, Valid: true}
	slog.Info("claim settled", "method", "SettleClaim", "transaction_id", tx.ID,
		"amount", tx.Amount, "fee", tx.Fee, "destination_account_id", destinationAccountID)
	return nil
}

func (r *PostgresTransactionRepository) SettleApproval(ctx context.Context, tx *models.Transaction, payerAccountID uuid.UUID, requesterAccountID uuid.NullUUID) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "SettleApproval")
	span.SetAttributes(attribute.String("transaction_id", tx.ID.String()))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("SettleApproval", status).Inc()
		observability.RepositoryDuration.WithLabelValues("SettleApproval").Observe(time.Since(start).Seconds())
	}()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	res, err := dbTx.ExecContext(ctx,
		`UPDATE transactions SET status = $2, source_account_id = $3 WHERE id = $1 AND status = $4`,
		tx.ID, models.StatusCompleted, payerAccountID, models.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to complete request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete request: %w", err)
	}
	if rows == 0 {
		err = fmt.Errorf("%w: transaction %s is not pending", pkgerrors.ErrNotClaimable, tx.ID)
		return err
	}

	if _, err = ledger.Debit(ctx, dbTx, payerAccountID, tx.Amount); err != nil {
		return err
	}
	if requesterAccountID.Valid {
		if _, err = ledger.Credit(ctx, dbTx, requesterAccountID.UUID, tx.Amount); err != nil {
			return err
		}
	}

	if err = dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit approval: %w", err)
	}

	tx.Status = models.StatusCompleted
	tx.SourceAccountID = uuid.NullUUID{UUID: payerAccountID, Valid: true}
	slog.Info("request approved", "method", "SettleApproval", "transaction_id", tx.ID, "amount", tx.Amount)
	return nil
}
