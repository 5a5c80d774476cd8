package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kshayk/pb-transaction/internal/domain"
	"github.com/kshayk/pb-transaction/internal/store"
)

type sweeperRepoStub struct {
	store.Repository

	expired []domain.TransferRequest
	listErr error

	rejected   []uuid.UUID
	rejectErrs map[uuid.UUID]error
}

func (s *sweeperRepoStub) ListExpiredPendingTransfers(ctx context.Context, cutoff time.Time, limit int) ([]domain.TransferRequest, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.expired, nil
}

func (s *sweeperRepoStub) RejectTransferAtomic(ctx context.Context, transfer *domain.TransferRequest) error {
	if err, ok := s.rejectErrs[transfer.ID]; ok {
		return err
	}
	s.rejected = append(s.rejected, transfer.ID)
	return nil
}

func expiredTransfer() domain.TransferRequest {
	created := time.Now().UTC().Add(-8 * 24 * time.Hour)
	return domain.TransferRequest{
		ID:         uuid.New(),
		SenderID:   uuid.New(),
		ReceiverID: uuid.New(),
		Amount:     100,
		Status:     domain.StatusPending,
		CreatedAt:  created,
		ExpireAt:   created.Add(domain.TransferTTL),
	}
}

func TestSweepOnce_RejectsExpiredTransfers(t *testing.T) {
	first := expiredTransfer()
	second := expiredTransfer()
	repo := &sweeperRepoStub{expired: []domain.TransferRequest{first, second}}
	sweeper := NewExpirySweeper(repo, time.Minute, 100)

	if err := sweeper.sweepOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.rejected) != 2 {
		t.Fatalf("expected both expired transfers rejected, got %v", repo.rejected)
	}
}

func TestSweepOnce_LostRaceIsSkipped(t *testing.T) {
	won := expiredTransfer()
	lost := expiredTransfer()
	repo := &sweeperRepoStub{
		expired:    []domain.TransferRequest{lost, won},
		rejectErrs: map[uuid.UUID]error{lost.ID: store.ErrInvalidTransition},
	}
	sweeper := NewExpirySweeper(repo, time.Minute, 100)

	// A transfer accepted between listing and flipping loses nothing; the
	// sweeper simply moves on.
	if err := sweeper.sweepOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.rejected) != 1 || repo.rejected[0] != won.ID {
		t.Fatalf("expected only the still-pending transfer rejected, got %v", repo.rejected)
	}
}

func TestSweepOnce_RejectFailureDoesNotAbortBatch(t *testing.T) {
	failing := expiredTransfer()
	healthy := expiredTransfer()
	repo := &sweeperRepoStub{
		expired:    []domain.TransferRequest{failing, healthy},
		rejectErrs: map[uuid.UUID]error{failing.ID: errors.New("db hiccup")},
	}
	sweeper := NewExpirySweeper(repo, time.Minute, 100)

	if err := sweeper.sweepOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.rejected) != 1 || repo.rejected[0] != healthy.ID {
		t.Fatalf("expected the healthy transfer still processed, got %v", repo.rejected)
	}
}

func TestSweepOnce_ListFailureReturnsError(t *testing.T) {
	repo := &sweeperRepoStub{listErr: errors.New("db down")}
	sweeper := NewExpirySweeper(repo, time.Minute, 100)

	if err := sweeper.sweepOnce(context.Background()); err == nil {
		t.Fatal("expected an error when listing fails")
	}
}
