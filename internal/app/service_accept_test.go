package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/kshayk/pb-transaction/internal/domain"
	"github.com/kshayk/pb-transaction/internal/store"
)

type acceptRepoStub struct {
	store.Repository

	mu       sync.Mutex
	transfer *domain.TransferRequest

	settleCalls int
	settleErr   error
	settledWith *domain.OutboxEvent
}

func (s *acceptRepoStub) GetTransferRequest(ctx context.Context, transferID uuid.UUID) (*domain.TransferRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transfer == nil {
		return nil, store.ErrTransferNotFound
	}
	copied := *s.transfer
	return &copied, nil
}

// SettleTransferAtomic mimics the conditional status flip: only the first
// caller finds the row pending.
func (s *acceptRepoStub) SettleTransferAtomic(ctx context.Context, transfer *domain.TransferRequest, event *domain.OutboxEvent) error {
	if s.settleErr != nil {
		return s.settleErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transfer.Status != domain.StatusPending {
		return store.ErrInvalidTransition
	}
	s.transfer.Status = domain.StatusCompleted
	s.settleCalls++
	s.settledWith = event
	return nil
}

func pendingTransfer(receiverID uuid.UUID) *domain.TransferRequest {
	return &domain.TransferRequest{
		ID:         uuid.New(),
		SenderID:   uuid.New(),
		ReceiverID: receiverID,
		Amount:     100,
		Status:     domain.StatusPending,
	}
}

func TestAcceptTransfer_SettlesWithAcceptedEvent(t *testing.T) {
	receiverID := uuid.New()
	repo := &acceptRepoStub{transfer: pendingTransfer(receiverID)}
	svc := NewService(repo)

	if err := svc.AcceptTransfer(context.Background(), receiverID, repo.transfer.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.settleCalls != 1 {
		t.Fatalf("expected one settlement, got %d", repo.settleCalls)
	}
	if repo.settledWith == nil || repo.settledWith.RoutingKey != domain.EventTransferAccepted {
		t.Fatalf("expected transfer-accepted outbox event, got %+v", repo.settledWith)
	}

	var payload domain.TransferAcceptedEvent
	if err := json.Unmarshal(repo.settledWith.Payload, &payload); err != nil {
		t.Fatalf("failed to unmarshal event payload: %v", err)
	}
	if payload.ReceiverID != receiverID {
		t.Fatalf("event payload receiver mismatch: %+v", payload)
	}
}

func TestAcceptTransfer_UnknownTransfer(t *testing.T) {
	repo := &acceptRepoStub{}
	svc := NewService(repo)

	err := svc.AcceptTransfer(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, store.ErrTransferNotFound) {
		t.Fatalf("expected ErrTransferNotFound, got %v", err)
	}
}

func TestAcceptTransfer_NonPendingFailsWithoutSettlement(t *testing.T) {
	receiverID := uuid.New()
	transfer := pendingTransfer(receiverID)
	transfer.Status = domain.StatusRejected
	repo := &acceptRepoStub{transfer: transfer}
	svc := NewService(repo)

	err := svc.AcceptTransfer(context.Background(), receiverID, transfer.ID)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if repo.settleCalls != 0 {
		t.Fatal("expected no settlement for a terminal transfer")
	}
}

func TestAcceptTransfer_OnlyReceiverMayAccept(t *testing.T) {
	receiverID := uuid.New()
	repo := &acceptRepoStub{transfer: pendingTransfer(receiverID)}
	svc := NewService(repo)

	err := svc.AcceptTransfer(context.Background(), uuid.New(), repo.transfer.ID)
	if !errors.Is(err, ErrNotReceiver) {
		t.Fatalf("expected ErrNotReceiver, got %v", err)
	}
	if repo.settleCalls != 0 {
		t.Fatal("expected no settlement for an unauthorized caller")
	}
}

func TestAcceptTransfer_ConcurrentAcceptsSettleExactlyOnce(t *testing.T) {
	receiverID := uuid.New()
	repo := &acceptRepoStub{transfer: pendingTransfer(receiverID)}
	svc := NewService(repo)

	const concurrency = 16
	errs := make(chan error, concurrency)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.AcceptTransfer(context.Background(), receiverID, repo.transfer.ID)
		}()
	}
	wg.Wait()
	close(errs)

	successes, conflicts := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, store.ErrInvalidTransition):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful accept, got %d", successes)
	}
	if conflicts != concurrency-1 {
		t.Fatalf("expected %d conflicts, got %d", concurrency-1, conflicts)
	}
	if repo.settleCalls != 1 {
		t.Fatalf("expected exactly one settlement, got %d", repo.settleCalls)
	}
}
