/**
 * @description
 * This file implements the expiry sweeper: a background loop that reclaims
 * reservations held by pending transfers whose seven-day window has passed.
 * Each expired transfer is rejected through the same atomic flip-and-release
 * unit of work as an explicit rejection, so a concurrent accept or reject
 * simply wins the conditional update and the sweeper moves on.
 *
 * Without this loop an unanswered transfer would freeze the sender's
 * available balance forever.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/kshayk/pb-transaction/internal/store"
)

const (
	defaultSweepBatchSize = 100
	maxSweepBatchSize     = 500
)

// ExpirySweeper rejects and refunds expired pending transfers.
type ExpirySweeper struct {
	repo      store.Repository
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewExpirySweeper creates a sweeper running every interval.
func NewExpirySweeper(repo store.Repository, interval time.Duration, batchSize int) *ExpirySweeper {
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	if batchSize > maxSweepBatchSize {
		batchSize = maxSweepBatchSize
	}
	return &ExpirySweeper{
		repo:      repo,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run sweeps until the context is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("level=info component=expiry_sweeper msg=\"sweeper started\" interval=%s batch_size=%d", s.interval, s.batchSize)

	for {
		select {
		case <-ctx.Done():
			log.Println("level=info component=expiry_sweeper msg=\"sweeper stopped\"")
			return
		case <-ticker.C:
			if err := s.sweepOnce(ctx); err != nil {
				log.Printf("level=error component=expiry_sweeper msg=\"sweep failed\" err=%v", err)
			}
		}
	}
}

// sweepOnce rejects one batch of expired pending transfers.
func (s *ExpirySweeper) sweepOnce(ctx context.Context) error {
	transfers, err := s.repo.ListExpiredPendingTransfers(ctx, s.now().UTC(), s.batchSize)
	if err != nil {
		return err
	}

	for _, transfer := range transfers {
		transfer := transfer
		if err := s.repo.RejectTransferAtomic(ctx, &transfer); err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				// Lost the race to an accept or reject between listing and
				// flipping; nothing to reclaim.
				continue
			}
			log.Printf("level=error component=expiry_sweeper msg=\"failed to expire transfer\" transfer_id=%s err=%v", transfer.ID, err)
			continue
		}
		log.Printf("level=info component=expiry_sweeper msg=\"expired pending transfer rejected\" transfer_id=%s sender_id=%s amount=%d",
			transfer.ID, transfer.SenderID, transfer.Amount)
	}

	return nil
}
