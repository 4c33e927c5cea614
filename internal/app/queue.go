package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"hotel_channel/internal/domain"
)

// MaxEnqueueDays bounds one change request's date range.
const MaxEnqueueDays = 730

var ErrBadChangeRequest = errors.New("invalid change request")

type QueueService struct {
	conns       domain.ConnectionStore
	queue       domain.QueueStore
	maxAttempts int
}

func NewQueueService(c domain.ConnectionStore, q domain.QueueStore, maxAttempts int) *QueueService {
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	return &QueueService{conns: c, queue: q, maxAttempts: maxAttempts}
}

// Enqueue records that a room type needs re-sync for every date of the request,
// on every two-way connection of the hotel that maps it. Merging is left to the store.
// It returns the number of items written.
func (s *QueueService) Enqueue(ctx context.Context, req domain.ChangeRequest) (int, error) {
	if req.HotelID <= 0 || req.RoomTypeID <= 0 || req.From.IsZero() {
		return 0, fmt.Errorf("%w: hotel, room type and from date are required", ErrBadChangeRequest)
	}
	dates := req.Dates()
	if len(dates) > MaxEnqueueDays {
		return 0, fmt.Errorf("%w: range of %d days exceeds %d", ErrBadChangeRequest, len(dates), MaxEnqueueDays)
	}

	conns, err := s.conns.ListConnections(ctx, domain.ConnectionFilter{HotelID: &req.HotelID})
	if err != nil {
		return 0, fmt.Errorf("list connections: %w", err)
	}

	aspects := domain.AspectsForFields(req.Fields)
	mealPlan := req.MealPlanFor()
	written := 0
	for _, c := range conns {
		if !c.PushesInventory() || !c.Covers(req.RoomTypeID) {
			continue
		}
		for _, d := range dates {
			it := domain.PendingSyncItem{
				HotelID:      req.HotelID,
				ConnectionID: c.ID,
				RoomTypeID:   req.RoomTypeID,
				MealPlanID:   mealPlan,
				TargetDate:   d,
				Aspects:      aspects,
				Status:       domain.ItemPending,
				Priority:     req.Priority,
				MaxAttempts:  s.maxAttempts,
			}
			if err := s.queue.Upsert(ctx, it); err != nil {
				return written, fmt.Errorf("enqueue connection %d on %s: %w", c.ID, d.Format("2006-01-02"), err)
			}
			written++
		}
	}
	log.Debug().
		Int64("hotel_id", req.HotelID).
		Int64("room_type_id", req.RoomTypeID).
		Str("aspects", aspects.String()).
		Int("items", written).
		Msg("enqueued")
	return written, nil
}
