package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mkorenev/geopay/internal/infrastructure/observability"
	"github.com/mkorenev/geopay/internal/models"
	pkgerrors "github.com/mkorenev/geopay/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresLockedSavingRepository struct {
	db *sql.DB
}

func NewPostgresLockedSavingRepository(db *sql.DB) *PostgresLockedSavingRepository {
	return &PostgresLockedSavingRepository{db: db}
}

func (r *PostgresLockedSavingRepository) Create(ctx context.Context, saving *models.LockedSaving) error {
	var err error
	tracer := otel.Tracer("locked-saving-repository")
	ctx, span := tracer.Start(ctx, "CreateLockedSaving")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateLockedSaving", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateLockedSaving").Observe(time.Since(start).Seconds())
	}()

	if saving == nil {
		err = fmt.Errorf("%w: locked saving is nil", pkgerrors.ErrInvalidInput)
		return err
	}
	if saving.Amount.LessThanOrEqual(decimal.Zero) {
		err = fmt.Errorf("%w: %s", pkgerrors.ErrInvalidAmount, saving.Amount)
		return err
	}
	if !saving.Status.Valid() {
		err = fmt.Errorf("%w: saving status %q", pkgerrors.ErrInvalidInput, saving.Status)
		return err
	}
	if saving.ID == uuid.Nil {
		saving.ID = uuid.New()
	}

	span.SetAttributes(
		attribute.String("locked_saving_id", saving.ID.String()),
		attribute.Int("lock_period_months", saving.LockPeriodMonths),
	)

	query := `
	INSERT INTO locked_savings
		(id, account_id, amount, lock_period_months, start_date, end_date, status, external_order_ref)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING created_at
	`
	err = r.db.QueryRowContext(ctx, query,
		saving.ID, saving.AccountID, saving.Amount, saving.LockPeriodMonths,
		saving.StartDate, saving.EndDate, saving.Status, saving.ExternalOrderRef,
	).Scan(&saving.CreatedAt)
	if err != nil {
		slog.Error("failed to create locked saving", "method", "Create", "locked_saving_id", saving.ID, "error", err)
		return fmt.Errorf("failed to create locked saving: %w", err)
	}

	slog.Info("locked saving created", "method", "Create", "locked_saving_id", saving.ID,
		"account_id", saving.AccountID, "months", saving.LockPeriodMonths)
	return nil
}

const savingColumns = `id, account_id, amount, lock_period_months, start_date, end_date, status, external_order_ref, created_at`

func scanSaving(row interface {
	Scan(dest ...interface{}) error
}) (*models.LockedSaving, error) {
	var s models.LockedSaving
	err := row.Scan(
		&s.ID, &s.AccountID, &s.Amount, &s.LockPeriodMonths,
		&s.StartDate, &s.EndDate, &s.Status, &s.ExternalOrderRef, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresLockedSavingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.LockedSaving, error) {
	query := `SELECT ` + savingColumns + ` FROM locked_savings WHERE id = $1`
	saving, err := scanSaving(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: locked saving %s", pkgerrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get locked saving: %w", err)
	}
	return saving, nil
}

func (r *PostgresLockedSavingRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.LockedSaving, error) {
	query := `SELECT ` + savingColumns + ` FROM locked_savings WHERE account_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list locked savings: %w", err)
	}
	defer rows.Close()

	var savings []models.LockedSaving
	for rows.Next() {
		s, err := scanSaving(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan locked saving: %w", err)
		}
		savings = append(savings, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list locked savings: %w", err)
	}
	return savings, nil
}

// casStatus flips from → next for one saving. Zero rows means the saving is
// missing or in another status; the caller maps that to its own error kind.
func (r *PostgresLockedSavingRepository) casStatus(ctx context.Context, id uuid.UUID, from, next models.LockedSavingStatus) error {
	query := `UPDATE locked_savings SET status = $2 WHERE id = $1 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, id, next, from)
	if err != nil {
		return fmt.Errorf("failed to update locked saving status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update locked saving status: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: locked saving %s is not %s", pkgerrors.ErrLockNotActive, id, from)
	}
	return nil
}

func (r *PostgresLockedSavingRepository) MarkLocked(ctx context.Context, id uuid.UUID) error {
	return r.casStatus(ctx, id, models.SavingPending, models.SavingLocked)
}

func (r *PostgresLockedSavingRepository) MarkWithdrawn(ctx context.Context, id uuid.UUID) error {
	return r.casStatus(ctx, id, models.SavingLocked, models.SavingWithdrawn)
}

func (r *PostgresLockedSavingRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.casStatus(ctx, id, models.SavingPending, models.SavingFailed)
}

func (r *PostgresLockedSavingRepository) CountNotWithdrawn(ctx context.Context, accountID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM locked_savings WHERE account_id = $1 AND status <> $2`
	err := r.db.QueryRowContext(ctx, query, accountID, models.SavingWithdrawn).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count locked savings: %w", err)
	}
	return count, nil
}
