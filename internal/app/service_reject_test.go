package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/kshayk/pb-transaction/internal/domain"
	"github.com/kshayk/pb-transaction/internal/store"
)

type rejectRepoStub struct {
	store.Repository

	transfer *domain.TransferRequest

	rejectCalls int
	rejectErr   error
}

func (s *rejectRepoStub) GetTransferRequest(ctx context.Context, transferID uuid.UUID) (*domain.TransferRequest, error) {
	if s.transfer == nil {
		return nil, store.ErrTransferNotFound
	}
	copied := *s.transfer
	return &copied, nil
}

func (s *rejectRepoStub) RejectTransferAtomic(ctx context.Context, transfer *domain.TransferRequest) error {
	if s.rejectErr != nil {
		return s.rejectErr
	}
	s.rejectCalls++
	s.transfer.Status = domain.StatusRejected
	return nil
}

func TestRejectTransfer_FlipsAndReleases(t *testing.T) {
	receiverID := uuid.New()
	repo := &rejectRepoStub{transfer: pendingTransfer(receiverID)}
	svc := NewService(repo)

	if err := svc.RejectTransfer(context.Background(), receiverID, repo.transfer.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.rejectCalls != 1 {
		t.Fatalf("expected one atomic reject, got %d", repo.rejectCalls)
	}
	if repo.transfer.Status != domain.StatusRejected {
		t.Fatalf("expected rejected status, got %q", repo.transfer.Status)
	}
}

func TestRejectTransfer_OnlyReceiverMayReject(t *testing.T) {
	repo := &rejectRepoStub{transfer: pendingTransfer(uuid.New())}
	svc := NewService(repo)

	err := svc.RejectTransfer(context.Background(), uuid.New(), repo.transfer.ID)
	if !errors.Is(err, ErrNotReceiver) {
		t.Fatalf("expected ErrNotReceiver, got %v", err)
	}
	if repo.rejectCalls != 0 {
		t.Fatal("expected no mutation for an unauthorized caller")
	}
}

func TestRejectTransfer_NonPendingFails(t *testing.T) {
	receiverID := uuid.New()
	transfer := pendingTransfer(receiverID)
	transfer.Status = domain.StatusCompleted
	repo := &rejectRepoStub{transfer: transfer}
	svc := NewService(repo)

	err := svc.RejectTransfer(context.Background(), receiverID, transfer.ID)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if repo.rejectCalls != 0 {
		t.Fatal("expected no mutation for a terminal transfer")
	}
}

func TestRejectTransfer_ConditionalFlipConflictSurfaces(t *testing.T) {
	receiverID := uuid.New()
	repo := &rejectRepoStub{
		transfer:  pendingTransfer(receiverID),
		rejectErr: store.ErrInvalidTransition,
	}
	svc := NewService(repo)

	err := svc.RejectTransfer(context.Background(), receiverID, repo.transfer.ID)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from the store, got %v", err)
	}
}

func TestGetTransfer_PartyVisibility(t *testing.T) {
	receiverID := uuid.New()
	transfer := pendingTransfer(receiverID)
	repo := &rejectRepoStub{transfer: transfer}
	svc := NewService(repo)

	if _, err := svc.GetTransfer(context.Background(), receiverID, transfer.ID); err != nil {
		t.Fatalf("receiver should see the transfer: %v", err)
	}
	if _, err := svc.GetTransfer(context.Background(), transfer.SenderID, transfer.ID); err != nil {
		t.Fatalf("sender should see the transfer: %v", err)
	}
	if _, err := svc.GetTransfer(context.Background(), uuid.New(), transfer.ID); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant for a stranger, got %v", err)
	}
}
