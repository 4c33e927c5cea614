package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"hotel_channel/internal/domain"
)

const (
	FailedItemTTL = 7 * 24 * time.Hour
	LogTTL        = 90 * 24 * time.Hour
	StaleClaimAge = 15 * time.Minute
)

type PurgeReport struct {
	FailedItems int64
	LogEntries  int64
	Recovered   int64
}

type RetentionService struct {
	queue domain.QueueStore
	logs  domain.ChannelLogStore
	now   func() time.Time
}

func NewRetentionService(q domain.QueueStore, l domain.ChannelLogStore) *RetentionService {
	return &RetentionService{queue: q, logs: l, now: time.Now}
}

// Purge drops expired failed items and audit entries and hands orphaned
// claims back to the queue. Every step runs even if an earlier one failed.
func (s *RetentionService) Purge(ctx context.Context) (PurgeReport, error) {
	var (
		rep  PurgeReport
		errs []error
		err  error
		now  = s.now()
	)
	if rep.FailedItems, err = s.queue.PurgeFailed(ctx, now.Add(-FailedItemTTL)); err != nil {
		errs = append(errs, fmt.Errorf("purge failed items: %w", err))
	}
	if rep.LogEntries, err = s.logs.PurgeLogs(ctx, now.Add(-LogTTL)); err != nil {
		errs = append(errs, fmt.Errorf("purge logs: %w", err))
	}
	if rep.Recovered, err = s.queue.RecoverStale(ctx, now.Add(-StaleClaimAge)); err != nil {
		errs = append(errs, fmt.Errorf("recover stale claims: %w", err))
	}
	log.Info().
		Int64("failed_items", rep.FailedItems).
		Int64("log_entries", rep.LogEntries).
		Int64("recovered", rep.Recovered).
		Msg("retention purge")
	return rep, errors.Join(errs...)
}
