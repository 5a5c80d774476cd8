/**
 * @description
 * This file defines the core domain models for the transfer service. These
 * structs represent the main entities and data transfer objects (DTOs) used
 * throughout the service's business logic, database interactions, and API
 * layers.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest
 *   currency unit, which avoids floating-point inaccuracies with financial
 *   data.
 * - A transfer's status is a closed set: a transfer leaves PENDING exactly
 *   once, into one of the two terminal states, and never changes again.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransferStatus enumerates the lifecycle states of a transfer request.
type TransferStatus string

const (
	StatusPending   TransferStatus = "pending"
	StatusCompleted TransferStatus = "completed"
	StatusRejected  TransferStatus = "rejected"
)

// IsTerminal reports whether a status can no longer change.
func (s TransferStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// TransferTTL is how long a transfer request stays open before the expiry
// sweeper reclaims its reservation.
const TransferTTL = 7 * 24 * time.Hour

// TransferRequest represents one requested money transfer between two
// accounts. It maps directly to the `transfer_requests` table.
type TransferRequest struct {
	ID         uuid.UUID      `json:"id"`
	SenderID   uuid.UUID      `json:"sender_id"`
	ReceiverID uuid.UUID      `json:"receiver_id"`
	Amount     int64          `json:"amount"`
	Note       *string        `json:"note,omitempty"`
	Status     TransferStatus `json:"status"`
	RetryCount int            `json:"retry_count"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpireAt   time.Time      `json:"expire_at"`
}

// Account represents a party's balances. The settled balance reflects
// completed transfers only; the available balance is the settled balance
// minus all outstanding reservations for transfers this account has
// initiated and not yet settled.
type Account struct {
	ID               uuid.UUID `json:"id"`
	SettledBalance   int64     `json:"settled_balance"`
	AvailableBalance int64     `json:"available_balance"`
}

// HistoryDirection marks which side of a completed transfer a history entry
// records.
type HistoryDirection string

const (
	DirectionPay     HistoryDirection = "pay"
	DirectionReceive HistoryDirection = "receive"
)

// TransactionHistoryEntry is one side of the append-only audit record
// written when a transfer settles. Entries come in matched pairs whose
// amounts sum to zero: negative for the paying side, positive for the
// receiving side.
type TransactionHistoryEntry struct {
	ID         uuid.UUID        `json:"id"`
	UserID     uuid.UUID        `json:"user_id"`
	TransferID uuid.UUID        `json:"transfer_id"`
	Direction  HistoryDirection `json:"direction"`
	Amount     int64            `json:"amount"`
	CreatedAt  time.Time        `json:"created_at"`
}

// CreateTransferPayload is the DTO for incoming transfer creation requests.
type CreateTransferPayload struct {
	ReceiverID string  `json:"receiverId"`
	Amount     int64   `json:"amount"`
	Note       *string `json:"note,omitempty"`
}

// RespondTransferPayload is the DTO for accept/reject requests.
type RespondTransferPayload struct {
	TransferRequestID string `json:"transferRequestId"`
}
