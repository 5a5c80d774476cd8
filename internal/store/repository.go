/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the transfer service. By
 * defining an interface, we decouple the application's business logic from
 * the specific database implementation (PostgreSQL), making the code more
 * modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kshayk/pb-transaction/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account ledger methods. ReserveFunds is a single conditional atomic
	// decrement: it fails with ErrInsufficientFunds when the available
	// balance does not cover the amount, so callers never pre-check and
	// write separately.
	GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	ReserveFunds(ctx context.Context, accountID uuid.UUID, amount int64) error
	ReleaseFunds(ctx context.Context, accountID uuid.UUID, amount int64) error

	// Transfer request methods. CreateTransferRequest persists the PENDING
	// row and its transfer-requested outbox event in one transaction.
	CreateTransferRequest(ctx context.Context, transfer *domain.TransferRequest, event *domain.OutboxEvent) error
	GetTransferRequest(ctx context.Context, transferID uuid.UUID) (*domain.TransferRequest, error)
	IncrementRetryCount(ctx context.Context, transferID uuid.UUID) error

	// SettleTransferAtomic performs the full acceptance unit of work in one
	// transaction: the conditional pending->completed flip (the sole
	// mutual-exclusion point for double-processing), the sender's settled
	// debit, the receiver's settled and available credit, the matched
	// pay/receive history pair, and the transfer-accepted outbox event.
	// Returns ErrInvalidTransition when the transfer is no longer pending.
	SettleTransferAtomic(ctx context.Context, transfer *domain.TransferRequest, event *domain.OutboxEvent) error

	// RejectTransferAtomic flips pending->rejected and releases the sender's
	// reservation in one transaction. Returns ErrInvalidTransition when the
	// transfer is no longer pending.
	RejectTransferAtomic(ctx context.Context, transfer *domain.TransferRequest) error

	// Transaction history methods.
	ListTransactionHistory(ctx context.Context, userID uuid.UUID) ([]domain.TransactionHistoryEntry, error)

	// Outbox methods used by the background dispatcher.
	ListUnpublishedOutboxEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkOutboxEventPublished(ctx context.Context, eventID uuid.UUID) error
	MarkOutboxEventFailed(ctx context.Context, eventID uuid.UUID) error

	// Expiry sweeper support.
	ListExpiredPendingTransfers(ctx context.Context, cutoff time.Time, limit int) ([]domain.TransferRequest, error)
}
