/**
 * @description
 * This file implements the outbox dispatcher: a background loop that drains
 * persisted lifecycle events and publishes them to RabbitMQ. Events are
 * written to the outbox inside the same database transaction as the state
 * change they describe, so a broker outage can delay a notification but
 * never lose it.
 *
 * Delivery is at-least-once: a crash between publish and the published_at
 * update replays the event on the next tick. Downstream consumers are
 * expected to deduplicate on transferId.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/kshayk/pb-transaction/internal/domain"
	"github.com/kshayk/pb-transaction/internal/store"
	"github.com/kshayk/pb-transaction/pkg/rabbitmq"
)

const (
	defaultOutboxBatchSize = 100
	maxOutboxBatchSize     = 500
)

// OutboxDispatcher periodically publishes unpublished outbox events.
type OutboxDispatcher struct {
	repo      store.Repository
	publisher rabbitmq.Publisher
	exchange  string
	interval  time.Duration
	batchSize int
}

// NewOutboxDispatcher creates a dispatcher draining the outbox every
// interval, publishing to the given exchange.
func NewOutboxDispatcher(repo store.Repository, publisher rabbitmq.Publisher, exchange string, interval time.Duration, batchSize int) *OutboxDispatcher {
	if batchSize <= 0 {
		batchSize = defaultOutboxBatchSize
	}
	if batchSize > maxOutboxBatchSize {
		batchSize = maxOutboxBatchSize
	}
	return &OutboxDispatcher{
		repo:      repo,
		publisher: publisher,
		exchange:  exchange,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run drains the outbox until the context is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	log.Printf("level=info component=outbox msg=\"dispatcher started\" interval=%s batch_size=%d", d.interval, d.batchSize)

	for {
		select {
		case <-ctx.Done():
			log.Println("level=info component=outbox msg=\"dispatcher stopped\"")
			return
		case <-ticker.C:
			if err := d.drainOnce(ctx); err != nil {
				log.Printf("level=error component=outbox msg=\"drain failed\" err=%v", err)
			}
		}
	}
}

// drainOnce publishes one batch of unpublished events. Per-event failures
// are recorded (attempts counter plus the transfer's retry counter) and do
// not stop the batch.
func (d *OutboxDispatcher) drainOnce(ctx context.Context) error {
	events, err := d.repo.ListUnpublishedOutboxEvents(ctx, d.batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := d.publisher.Publish(ctx, d.exchange, event.RoutingKey, event.Payload); err != nil {
			log.Printf("level=warn component=outbox msg=\"publish failed\" event_id=%s routing_key=%s attempts=%d err=%v",
				event.ID, event.RoutingKey, event.Attempts, err)
			d.recordFailure(ctx, event)
			continue
		}

		if err := d.repo.MarkOutboxEventPublished(ctx, event.ID); err != nil {
			// The event went out; a replay on the next tick is acceptable.
			log.Printf("level=warn component=outbox msg=\"failed to mark event published\" event_id=%s err=%v", event.ID, err)
		}
	}

	return nil
}

func (d *OutboxDispatcher) recordFailure(ctx context.Context, event domain.OutboxEvent) {
	if err := d.repo.MarkOutboxEventFailed(ctx, event.ID); err != nil {
		log.Printf("level=warn component=outbox msg=\"failed to record event failure\" event_id=%s err=%v", event.ID, err)
	}
	if err := d.repo.IncrementRetryCount(ctx, event.TransferID); err != nil {
		log.Printf("level=warn component=outbox msg=\"failed to bump transfer retry count\" transfer_id=%s err=%v", event.TransferID, err)
	}
}
