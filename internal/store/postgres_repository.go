/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the necessary SQL queries to interact with the
 * accounts, transfer_requests, transaction_history and transfer_outbox
 * tables.
 *
 * Balance updates are expressed as single conditional statements
 * (`available_balance = available_balance - $1 ... WHERE available_balance >= $1`)
 * so concurrent requests against the same account serialize inside the
 * database rather than racing through a read-then-write sequence in the
 * application. The status transition out of PENDING uses the same technique
 * and is the only double-processing guard in the system.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kshayk/pb-transaction/internal/domain"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrTransferNotFound  = errors.New("transfer request not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidTransition = errors.New("transfer is not pending")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetAccount retrieves an account's balances by id.
func (r *PostgresRepository) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT id, settled_balance, available_balance FROM accounts WHERE id = $1`
	err := r.db.QueryRow(ctx, query, accountID).Scan(&account.ID, &account.SettledBalance, &account.AvailableBalance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// ReserveFunds atomically decrements an account's available balance. The
// guard condition makes the check and the write a single statement, so two
// concurrent reservations can never overspend the available balance.
func (r *PostgresRepository) ReserveFunds(ctx context.Context, accountID uuid.UUID, amount int64) error {
	query := `
		UPDATE accounts
		SET available_balance = available_balance - $1, updated_at = NOW()
		WHERE id = $2 AND available_balance >= $1
	`
	result, err := r.db.Exec(ctx, query, amount, accountID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		// Distinguish a missing account from a short balance.
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrAccountNotFound
		}
		return ErrInsufficientFunds
	}
	return nil
}

// ReleaseFunds atomically restores a previously reserved amount to an
// account's available balance.
func (r *PostgresRepository) ReleaseFunds(ctx context.Context, accountID uuid.UUID, amount int64) error {
	query := `
		UPDATE accounts
		SET available_balance = available_balance + $1, updated_at = NOW()
		WHERE id = $2
	`
	result, err := r.db.Exec(ctx, query, amount, accountID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// CreateTransferRequest inserts the pending transfer row and its
// transfer-requested outbox event atomically.
func (r *PostgresRepository) CreateTransferRequest(ctx context.Context, transfer *domain.TransferRequest, event *domain.OutboxEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO transfer_requests (id, sender_id, receiver_id, amount, note, status, retry_count, created_at, expire_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.Exec(ctx, query,
		transfer.ID,
		transfer.SenderID,
		transfer.ReceiverID,
		transfer.Amount,
		transfer.Note,
		transfer.Status,
		transfer.RetryCount,
		transfer.CreatedAt,
		transfer.ExpireAt,
	)
	if err != nil {
		return err
	}

	if err := insertOutboxEvent(ctx, tx, event); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetTransferRequest retrieves a transfer request by id.
func (r *PostgresRepository) GetTransferRequest(ctx context.Context, transferID uuid.UUID) (*domain.TransferRequest, error) {
	var transfer domain.TransferRequest
	query := `
		SELECT id, sender_id, receiver_id, amount, note, status, retry_count, created_at, expire_at
		FROM transfer_requests
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, transferID).Scan(
		&transfer.ID,
		&transfer.SenderID,
		&transfer.ReceiverID,
		&transfer.Amount,
		&transfer.Note,
		&transfer.Status,
		&transfer.RetryCount,
		&transfer.CreatedAt,
		&transfer.ExpireAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return &transfer, nil
}

// IncrementRetryCount bumps the notification retry counter for a transfer.
// Best-effort observability signal; callers log failures and move on.
func (r *PostgresRepository) IncrementRetryCount(ctx context.Context, transferID uuid.UUID) error {
	query := `UPDATE transfer_requests SET retry_count = retry_count + 1 WHERE id = $1`
	result, err := r.db.Exec(ctx, query, transferID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTransferNotFound
	}
	return nil
}

// SettleTransferAtomic performs the complete acceptance unit of work in one
// database transaction. The conditional update on the status row is the
// mutual-exclusion point: of N concurrent accept calls exactly one flips the
// row, and the losers roll back having mutated nothing.
func (r *PostgresRepository) SettleTransferAtomic(ctx context.Context, transfer *domain.TransferRequest, event *domain.OutboxEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	flip := `
		UPDATE transfer_requests
		SET status = $1
		WHERE id = $2 AND status = $3
	`
	result, err := tx.Exec(ctx, flip, domain.StatusCompleted, transfer.ID, domain.StatusPending)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidTransition
	}

	debit := `
		UPDATE accounts
		SET settled_balance = settled_balance - $1, updated_at = NOW()
		WHERE id = $2
	`
	debitResult, err := tx.Exec(ctx, debit, transfer.Amount, transfer.SenderID)
	if err != nil {
		return fmt.Errorf("settle sender debit: %w", err)
	}
	if debitResult.RowsAffected() == 0 {
		return fmt.Errorf("settle sender debit: %w", ErrAccountNotFound)
	}

	// The receiver never held a reservation, so both balances move together.
	credit := `
		UPDATE accounts
		SET settled_balance = settled_balance + $1,
		    available_balance = available_balance + $1,
		    updated_at = NOW()
		WHERE id = $2
	`
	creditResult, err := tx.Exec(ctx, credit, transfer.Amount, transfer.ReceiverID)
	if err != nil {
		return fmt.Errorf("settle receiver credit: %w", err)
	}
	if creditResult.RowsAffected() == 0 {
		// A zero-row credit would commit a debit with no matching credit.
		// Rolling back keeps the settlement all-or-nothing.
		return fmt.Errorf("settle receiver credit: %w", ErrAccountNotFound)
	}

	history := `
		INSERT INTO transaction_history (id, user_id, transfer_id, direction, amount)
		VALUES ($1, $2, $3, $4, $5), ($6, $7, $8, $9, $10)
	`
	_, err = tx.Exec(ctx, history,
		uuid.New(), transfer.SenderID, transfer.ID, domain.DirectionPay, -transfer.Amount,
		uuid.New(), transfer.ReceiverID, transfer.ID, domain.DirectionReceive, transfer.Amount,
	)
	if err != nil {
		return fmt.Errorf("insert history pair: %w", err)
	}

	if err := insertOutboxEvent(ctx, tx, event); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RejectTransferAtomic flips a pending transfer to rejected and restores the
// sender's available balance in one transaction. The settled balance was
// never touched, so only the reservation needs undoing.
func (r *PostgresRepository) RejectTransferAtomic(ctx context.Context, transfer *domain.TransferRequest) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	flip := `
		UPDATE transfer_requests
		SET status = $1
		WHERE id = $2 AND status = $3
	`
	result, err := tx.Exec(ctx, flip, domain.StatusRejected, transfer.ID, domain.StatusPending)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidTransition
	}

	release := `
		UPDATE accounts
		SET available_balance = available_balance + $1, updated_at = NOW()
		WHERE id = $2
	`
	releaseResult, err := tx.Exec(ctx, release, transfer.Amount, transfer.SenderID)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	if releaseResult.RowsAffected() == 0 {
		return fmt.Errorf("release reservation: %w", ErrAccountNotFound)
	}

	return tx.Commit(ctx)
}

// ListTransactionHistory returns a user's history entries, newest first.
func (r *PostgresRepository) ListTransactionHistory(ctx context.Context, userID uuid.UUID) ([]domain.TransactionHistoryEntry, error) {
	query := `
		SELECT id, user_id, transfer_id, direction, amount, created_at
		FROM transaction_history
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []domain.TransactionHistoryEntry{}
	for rows.Next() {
		var entry domain.TransactionHistoryEntry
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.TransferID, &entry.Direction, &entry.Amount, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListUnpublishedOutboxEvents returns pending outbox rows, oldest first, for
// the background dispatcher to drain.
func (r *PostgresRepository) ListUnpublishedOutboxEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	query := `
		SELECT id, transfer_id, routing_key, payload, attempts, published_at, created_at
		FROM transfer_outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.OutboxEvent{}
	for rows.Next() {
		var event domain.OutboxEvent
		if err := rows.Scan(&event.ID, &event.TransferID, &event.RoutingKey, &event.Payload, &event.Attempts, &event.PublishedAt, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// MarkOutboxEventPublished records a successful broker publish.
func (r *PostgresRepository) MarkOutboxEventPublished(ctx context.Context, eventID uuid.UUID) error {
	query := `UPDATE transfer_outbox SET published_at = NOW() WHERE id = $1 AND published_at IS NULL`
	_, err := r.db.Exec(ctx, query, eventID)
	return err
}

// MarkOutboxEventFailed bumps the attempt counter after a failed publish.
func (r *PostgresRepository) MarkOutboxEventFailed(ctx context.Context, eventID uuid.UUID) error {
	query := `UPDATE transfer_outbox SET attempts = attempts + 1 WHERE id = $1`
	_, err := r.db.Exec(ctx, query, eventID)
	return err
}

// ListExpiredPendingTransfers returns pending transfers whose expiry has
// passed, oldest first, for the expiry sweeper.
func (r *PostgresRepository) ListExpiredPendingTransfers(ctx context.Context, cutoff time.Time, limit int) ([]domain.TransferRequest, error) {
	query := `
		SELECT id, sender_id, receiver_id, amount, note, status, retry_count, created_at, expire_at
		FROM transfer_requests
		WHERE status = $1 AND expire_at <= $2
		ORDER BY expire_at ASC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, domain.StatusPending, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transfers := []domain.TransferRequest{}
	for rows.Next() {
		var transfer domain.TransferRequest
		err := rows.Scan(
			&transfer.ID,
			&transfer.SenderID,
			&transfer.ReceiverID,
			&transfer.Amount,
			&transfer.Note,
			&transfer.Status,
			&transfer.RetryCount,
			&transfer.CreatedAt,
			&transfer.ExpireAt,
		)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, transfer)
	}
	return transfers, rows.Err()
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error {
	query := `
		INSERT INTO transfer_outbox (id, transfer_id, routing_key, payload, attempts)
		VALUES ($1, $2, $3, $4, 0)
	`
	if _, err := tx.Exec(ctx, query, event.ID, event.TransferID, event.RoutingKey, event.Payload); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}
