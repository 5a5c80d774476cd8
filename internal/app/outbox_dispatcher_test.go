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

type outboxRepoStub struct {
	store.Repository

	events  []domain.OutboxEvent
	listErr error

	publishedIDs []uuid.UUID
	markPubErr   error
	failedIDs    []uuid.UUID
	retryBumps   []uuid.UUID
}

func (s *outboxRepoStub) ListUnpublishedOutboxEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.events, nil
}

func (s *outboxRepoStub) MarkOutboxEventPublished(ctx context.Context, eventID uuid.UUID) error {
	if s.markPubErr != nil {
		return s.markPubErr
	}
	s.publishedIDs = append(s.publishedIDs, eventID)
	return nil
}

func (s *outboxRepoStub) MarkOutboxEventFailed(ctx context.Context, eventID uuid.UUID) error {
	s.failedIDs = append(s.failedIDs, eventID)
	return nil
}

func (s *outboxRepoStub) IncrementRetryCount(ctx context.Context, transferID uuid.UUID) error {
	s.retryBumps = append(s.retryBumps, transferID)
	return nil
}

type fakePublisher struct {
	published []string
	err       error
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, routingKey)
	return nil
}

func (p *fakePublisher) Close() {}

func outboxEvent(routingKey string) domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:         uuid.New(),
		TransferID: uuid.New(),
		RoutingKey: routingKey,
		Payload:    []byte(`{"transferId":"x"}`),
	}
}

func TestDrainOnce_PublishesAndMarksEvents(t *testing.T) {
	events := []domain.OutboxEvent{
		outboxEvent(domain.EventTransferRequested),
		outboxEvent(domain.EventTransferAccepted),
	}
	repo := &outboxRepoStub{events: events}
	publisher := &fakePublisher{}
	dispatcher := NewOutboxDispatcher(repo, publisher, "transfer.events", time.Second, 100)

	if err := dispatcher.drainOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(publisher.published) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(publisher.published))
	}
	if len(repo.publishedIDs) != 2 {
		t.Fatalf("expected 2 events marked published, got %d", len(repo.publishedIDs))
	}
	if len(repo.failedIDs) != 0 || len(repo.retryBumps) != 0 {
		t.Fatal("expected no failure bookkeeping on success")
	}
}

func TestDrainOnce_PublishFailureRecordsRetry(t *testing.T) {
	event := outboxEvent(domain.EventTransferRequested)
	repo := &outboxRepoStub{events: []domain.OutboxEvent{event}}
	publisher := &fakePublisher{err: errors.New("broker down")}
	dispatcher := NewOutboxDispatcher(repo, publisher, "transfer.events", time.Second, 100)

	if err := dispatcher.drainOnce(context.Background()); err != nil {
		t.Fatalf("per-event failures must not abort the batch: %v", err)
	}
	if len(repo.publishedIDs) != 0 {
		t.Fatal("expected no events marked published")
	}
	if len(repo.failedIDs) != 1 || repo.failedIDs[0] != event.ID {
		t.Fatalf("expected the event attempt counter bumped, got %v", repo.failedIDs)
	}
	if len(repo.retryBumps) != 1 || repo.retryBumps[0] != event.TransferID {
		t.Fatalf("expected the transfer retry counter bumped, got %v", repo.retryBumps)
	}
}

func TestDrainOnce_MarkPublishedFailureIsTolerated(t *testing.T) {
	repo := &outboxRepoStub{
		events:     []domain.OutboxEvent{outboxEvent(domain.EventTransferAccepted)},
		markPubErr: errors.New("write failed"),
	}
	publisher := &fakePublisher{}
	dispatcher := NewOutboxDispatcher(repo, publisher, "transfer.events", time.Second, 100)

	// The event went out; the unpersisted marker just means a replay later.
	if err := dispatcher.drainOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("expected one publish, got %d", len(publisher.published))
	}
}

func TestDrainOnce_EmptyOutboxIsNoOp(t *testing.T) {
	repo := &outboxRepoStub{}
	publisher := &fakePublisher{}
	dispatcher := NewOutboxDispatcher(repo, publisher, "transfer.events", time.Second, 100)

	if err := dispatcher.drainOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(publisher.published) != 0 {
		t.Fatal("expected no publishes for an empty outbox")
	}
}

func TestDrainOnce_ListFailureReturnsError(t *testing.T) {
	repo := &outboxRepoStub{listErr: errors.New("db down")}
	dispatcher := NewOutboxDispatcher(repo, &fakePublisher{}, "transfer.events", time.Second, 100)

	if err := dispatcher.drainOnce(context.Background()); err == nil {
		t.Fatal("expected an error when listing fails")
	}
}
