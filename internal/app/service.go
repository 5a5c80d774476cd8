/**
 * @description
 * This file contains the core business logic for the transfer service. The
 * `Service` struct orchestrates the transfer request lifecycle, coordinating
 * between the database repository and the persisted notification outbox.
 *
 * Key features:
 * - Implements the main use cases: requesting, accepting and rejecting a
 *   transfer between two accounts.
 * - Reserves the sender's available balance with a single conditional atomic
 *   decrement before any externally observable commitment exists.
 * - Performs settlement (status flip, sender debit, receiver credit, history
 *   pair, accepted event) as one atomic unit of work in the repository.
 * - Persists lifecycle events to an outbox inside the same transaction as
 *   the state change; a background dispatcher publishes them to RabbitMQ.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/kshayk/pb-transaction/internal/domain"
	"github.com/kshayk/pb-transaction/internal/store"
)

var (
	ErrSelfTransfer   = errors.New("sender and receiver must differ")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrInvalidPayload = errors.New("missing required field")
	ErrNotReceiver    = errors.New("caller is not the transfer receiver")
	ErrNotParticipant = errors.New("caller is not a party to the transfer")
	ErrRateLimited    = errors.New("too many transfer requests")
)

const transferRequestRateScope = "transfer_request"

// RateLimiter is the optional distributed limiter applied to transfer
// creation. A nil limiter disables rate limiting.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for transfers.
type Service struct {
	repo store.Repository

	rateLimiter    RateLimiter
	requestsPerMin int
	now            func() time.Time
}

// NewService creates a new transfer service instance.
func NewService(repo store.Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// SetRateLimiter enables per-sender rate limiting on transfer creation.
func (s *Service) SetRateLimiter(limiter RateLimiter, requestsPerMinute int) {
	s.rateLimiter = limiter
	s.requestsPerMin = requestsPerMinute
}

// RequestTransfer validates and creates a new pending transfer from the
// authenticated sender. The reservation of the sender's available balance is
// the economically sensitive step and happens before the transfer record
// exists; if persisting the record then fails, the reservation is released
// best-effort and the original error is reported.
func (s *Service) RequestTransfer(ctx context.Context, senderID uuid.UUID, payload domain.CreateTransferPayload) (*domain.TransferRequest, error) {
	if payload.ReceiverID == "" {
		return nil, fmt.Errorf("%w: receiverId", ErrInvalidPayload)
	}
	receiverID, err := uuid.Parse(payload.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("%w: receiverId", ErrInvalidPayload)
	}
	if payload.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if senderID == receiverID {
		return nil, ErrSelfTransfer
	}

	if s.rateLimiter != nil && s.requestsPerMin > 0 {
		count, _, limitErr := s.rateLimiter.ConsumeRateLimit(ctx, transferRequestRateScope, senderID.String(), s.requestsPerMin, time.Minute)
		if limitErr != nil {
			// The limiter is an availability guard, not a correctness one.
			log.Printf("level=warn component=service msg=\"rate limiter unavailable; allowing request\" sender_id=%s err=%v", senderID, limitErr)
		} else if count > s.requestsPerMin {
			return nil, ErrRateLimited
		}
	}

	// The receiver holds no reservation, so this is the only point that
	// confirms the destination account exists before money moves toward it.
	// Without it a transfer to a nonexistent id would be creatable and its
	// settlement would have no row to credit.
	if _, err := s.repo.GetAccount(ctx, receiverID); err != nil {
		return nil, fmt.Errorf("receiver account: %w", err)
	}

	// Single conditional atomic decrement; no separate balance pre-check.
	if err := s.repo.ReserveFunds(ctx, senderID, payload.Amount); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	transfer := &domain.TransferRequest{
		ID:         uuid.New(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Amount:     payload.Amount,
		Note:       payload.Note,
		Status:     domain.StatusPending,
		RetryCount: 0,
		CreatedAt:  now,
		ExpireAt:   now.Add(domain.TransferTTL),
	}

	event, err := newOutboxEvent(transfer.ID, domain.EventTransferRequested, domain.TransferRequestedEvent{
		TransferID: transfer.ID,
		SenderID:   transfer.SenderID,
		ReceiverID: transfer.ReceiverID,
		Amount:     transfer.Amount,
		Note:       transfer.Note,
	})
	if err != nil {
		s.releaseReservation(ctx, transfer)
		return nil, err
	}

	if err := s.repo.CreateTransferRequest(ctx, transfer, event); err != nil {
		s.releaseReservation(ctx, transfer)
		return nil, fmt.Errorf("create transfer request: %w", err)
	}

	return transfer, nil
}

// AcceptTransfer settles a pending transfer on behalf of its receiver. The
// whole settlement is one atomic repository operation guarded by the
// conditional status flip, so concurrent accepts of the same transfer yield
// exactly one settlement.
func (s *Service) AcceptTransfer(ctx context.Context, callerID uuid.UUID, transferID uuid.UUID) error {
	transfer, err := s.repo.GetTransferRequest(ctx, transferID)
	if err != nil {
		return err
	}
	if transfer.Status.IsTerminal() {
		return store.ErrInvalidTransition
	}
	if transfer.ReceiverID != callerID {
		return ErrNotReceiver
	}

	event, err := newOutboxEvent(transfer.ID, domain.EventTransferAccepted, domain.TransferAcceptedEvent{
		TransferID: transfer.ID,
		SenderID:   transfer.SenderID,
		ReceiverID: transfer.ReceiverID,
	})
	if err != nil {
		return err
	}

	return s.repo.SettleTransferAtomic(ctx, transfer, event)
}

// RejectTransfer declines a pending transfer on behalf of its receiver and
// restores the sender's reservation.
func (s *Service) RejectTransfer(ctx context.Context, callerID uuid.UUID, transferID uuid.UUID) error {
	transfer, err := s.repo.GetTransferRequest(ctx, transferID)
	if err != nil {
		return err
	}
	if transfer.Status.IsTerminal() {
		return store.ErrInvalidTransition
	}
	if transfer.ReceiverID != callerID {
		return ErrNotReceiver
	}

	return s.repo.RejectTransferAtomic(ctx, transfer)
}

// GetTransfer returns a transfer visible only to its two parties.
func (s *Service) GetTransfer(ctx context.Context, callerID uuid.UUID, transferID uuid.UUID) (*domain.TransferRequest, error) {
	transfer, err := s.repo.GetTransferRequest(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if transfer.SenderID != callerID && transfer.ReceiverID != callerID {
		return nil, ErrNotParticipant
	}
	return transfer, nil
}

// ListHistory returns the caller's transaction history entries.
func (s *Service) ListHistory(ctx context.Context, userID uuid.UUID) ([]domain.TransactionHistoryEntry, error) {
	return s.repo.ListTransactionHistory(ctx, userID)
}

// releaseReservation undoes a reservation after the transfer record could
// not be persisted. Failure of the compensation itself is logged and not
// escalated; the original error stays the one reported to the caller.
func (s *Service) releaseReservation(ctx context.Context, transfer *domain.TransferRequest) {
	if err := s.repo.ReleaseFunds(ctx, transfer.SenderID, transfer.Amount); err != nil {
		log.Printf("level=error component=service msg=\"failed to release reservation after create failure\" sender_id=%s amount=%d err=%v",
			transfer.SenderID, transfer.Amount, err)
	}
}

func newOutboxEvent(transferID uuid.UUID, routingKey string, payload interface{}) (*domain.OutboxEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", routingKey, err)
	}
	return &domain.OutboxEvent{
		ID:         uuid.New(),
		TransferID: transferID,
		RoutingKey: routingKey,
		Payload:    body,
	}, nil
}
