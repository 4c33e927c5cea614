package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"hotel_channel/internal/adapters/observability"
	"hotel_channel/internal/domain"
)

// Connections is the part of the registry the background jobs need.
type Connections interface {
	Get(ctx context.Context, id int64) (domain.ChannelConnection, error)
	ListSyncable(ctx context.Context) ([]domain.ChannelConnection, error)
	Endpoint(ctx context.Context, c domain.ChannelConnection) (domain.Endpoint, error)
	MarkSynced(ctx context.Context, c domain.ChannelConnection, cat domain.SyncCategory) error
	MarkError(ctx context.Context, c domain.ChannelConnection, msg, where string) error
}

const (
	DefaultBatchSize = 200
	BackoffBase      = 30 * time.Second
)

// Backoff is the delay before retry number attempts: 2^attempts × 30s.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 16 {
		attempts = 16
	}
	return time.Duration(1<<uint(attempts)) * BackoffBase
}

type FlushReport struct {
	Claimed     int
	Connections int
	Synced      int
	Retried     int
	Failed      int
	Discarded   int
	Errors      []error
}

func (r *FlushReport) add(o FlushReport) {
	r.Synced += o.Synced
	r.Retried += o.Retried
	r.Failed += o.Failed
	r.Discarded += o.Discarded
	r.Errors = append(r.Errors, o.Errors...)
}

type ProcessorService struct {
	queue       domain.QueueStore
	conns       Connections
	gw          domain.Gateway
	inv         domain.InventoryLookup
	rates       domain.RateLookup
	batchSize   int
	maxAttempts int
	now         func() time.Time
}

func NewProcessorService(q domain.QueueStore, c Connections, gw domain.Gateway, inv domain.InventoryLookup, rates domain.RateLookup, batchSize, maxAttempts int) *ProcessorService {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	return &ProcessorService{
		queue: q, conns: c, gw: gw, inv: inv, rates: rates,
		batchSize: batchSize, maxAttempts: maxAttempts, now: time.Now,
	}
}

// Tick claims one batch and pushes it. Connections are handled one after the
// other; a failure in one never stops the next.
func (s *ProcessorService) Tick(ctx context.Context) (FlushReport, error) {
	batch, err := s.queue.Claim(ctx, s.now(), s.batchSize)
	if err != nil {
		return FlushReport{}, fmt.Errorf("claim: %w", err)
	}
	rep := FlushReport{Claimed: len(batch.Items)}
	if len(batch.Items) == 0 {
		return rep, nil
	}

	var order []int64
	byConn := map[int64][]domain.PendingSyncItem{}
	for _, it := range batch.Items {
		if _, ok := byConn[it.ConnectionID]; !ok {
			order = append(order, it.ConnectionID)
		}
		byConn[it.ConnectionID] = append(byConn[it.ConnectionID], it)
	}
	rep.Connections = len(order)

	for _, id := range order {
		rep.add(s.flushConnection(ctx, id, byConn[id]))
	}

	observability.ObserveQueue("synced", rep.Synced)
	observability.ObserveQueue("retried", rep.Retried)
	observability.ObserveQueue("failed", rep.Failed)
	observability.ObserveQueue("discarded", rep.Discarded)
	log.Info().
		Str("token", batch.Token).
		Int("claimed", rep.Claimed).
		Int("synced", rep.Synced).
		Int("retried", rep.Retried).
		Int("failed", rep.Failed).
		Int("discarded", rep.Discarded).
		Msg("queue flush")
	return rep, nil
}

type errorMarker interface {
	MarkError(ctx context.Context, c domain.ChannelConnection, msg, where string) error
}

// markError records cause as the connection's last error. A failure to record
// it is logged and does not change the outcome of the run.
func markError(ctx context.Context, m errorMarker, c domain.ChannelConnection, cause error, cat domain.SyncCategory) {
	if err := m.MarkError(ctx, c, cause.Error(), string(cat)); err != nil {
		log.Error().Err(err).Int64("connection_id", c.ID).Str("category", string(cat)).
			Str("cause", cause.Error()).Msg("mark connection error failed")
	}
}

// cell is one (room type, date) of the outgoing tree and the items behind it.
type cell struct {
	roomType   int64
	date       time.Time
	remoteRoom string
	aspects    domain.SyncAspect
	allPlans   bool
	plans      map[int64]bool
	items      []domain.PendingSyncItem
	rateIDs    map[string]bool
	day        *domain.RoomDay
}

type cellKey struct {
	roomType int64
	date     time.Time
}

func (s *ProcessorService) flushConnection(ctx context.Context, connID int64, items []domain.PendingSyncItem) FlushReport {
	var rep FlushReport

	c, err := s.conns.Get(ctx, connID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Warn().Int64("connection_id", connID).Int("items", len(items)).Msg("connection gone, discarding items")
		return s.discard(ctx, items)
	case err != nil:
		return s.retry(ctx, items, fmt.Errorf("load connection %d: %w", connID, err))
	}
	if !c.PushesInventory() {
		log.Info().Int64("connection_id", connID).Str("status", string(c.Status)).Str("mode", string(c.Mode)).
			Int("items", len(items)).Msg("connection not pushing inventory, discarding items")
		return s.discard(ctx, items)
	}

	cells, gaps := s.buildCells(c, items)
	if len(gaps) > 0 {
		rep.add(s.discard(ctx, gaps))
	}

	var sendable []*cell
	for _, cl := range cells {
		if err := s.lookup(ctx, c, cl); err != nil {
			log.Error().Err(err).Int64("connection_id", connID).Int64("room_type_id", cl.roomType).
				Time("date", cl.date).Msg("local lookup failed")
			rep.add(s.retry(ctx, cl.items, err))
			continue
		}
		if cl.day == nil {
			// nothing known locally for this cell, nothing to push
			rep.add(s.done(ctx, cl.items))
			continue
		}
		sendable = append(sendable, cl)
	}
	if len(sendable) == 0 {
		return rep
	}

	ep, err := s.conns.Endpoint(ctx, c)
	if err != nil {
		rep.add(s.retry(ctx, cellItems(sendable), err))
		return rep
	}

	res, err := s.gw.UpdateInventory(ctx, ep, buildUpdate(sendable))
	if err != nil {
		markError(ctx, s.conns, c, err, domain.SyncInventory)
		rep.add(s.retry(ctx, cellItems(sendable), err))
		return rep
	}

	if !res.Success {
		observability.ObserveRejections("response", len(res.Rejections))
		rejected, ok := attribute(sendable, res.Rejections)
		if !ok {
			err := fmt.Errorf("inventory rejected (rqid %s): %s", res.RQID, describe(res.Rejections))
			markError(ctx, s.conns, c, err, domain.SyncInventory)
			rep.add(s.retry(ctx, cellItems(sendable), err))
			return rep
		}
		var accepted []*cell
		for _, cl := range sendable {
			if reasons, bad := rejected[cl]; bad {
				rep.add(s.retry(ctx, cl.items, fmt.Errorf("rejected (rqid %s): %s", res.RQID, strings.Join(reasons, "; "))))
				continue
			}
			accepted = append(accepted, cl)
		}
		rep.add(s.done(ctx, cellItems(accepted)))
		log.Warn().Int64("connection_id", connID).Str("rqid", res.RQID).
			Int("rejected_cells", len(rejected)).Int("accepted_cells", len(accepted)).Msg("inventory partially rejected")
	} else {
		rep.add(s.done(ctx, cellItems(sendable)))
	}

	if err := s.conns.MarkSynced(ctx, c, domain.SyncInventory); err != nil {
		log.Error().Err(err).Int64("connection_id", connID).Msg("mark synced failed")
	}
	return rep
}

// buildCells merges items per (room type, date). Items whose room type is no
// longer mapped are returned as gaps.
func (s *ProcessorService) buildCells(c domain.ChannelConnection, items []domain.PendingSyncItem) ([]*cell, []domain.PendingSyncItem) {
	var (
		out  []*cell
		gaps []domain.PendingSyncItem
		idx  = map[cellKey]*cell{}
	)
	for _, it := range items {
		remote, ok := c.RemoteRoomID(it.RoomTypeID)
		if !ok {
			log.Warn().Int64("connection_id", c.ID).Int64("room_type_id", it.RoomTypeID).
				Err(domain.ErrMappingGap).Msg("room type not mapped, dropping item")
			gaps = append(gaps, it)
			continue
		}
		k := cellKey{roomType: it.RoomTypeID, date: domain.Day(it.TargetDate)}
		cl := idx[k]
		if cl == nil {
			cl = &cell{roomType: k.roomType, date: k.date, remoteRoom: remote, plans: map[int64]bool{}, rateIDs: map[string]bool{}}
			idx[k] = cl
			out = append(out, cl)
		}
		cl.aspects = cl.aspects.Union(it.Aspects)
		if it.MealPlanID == nil {
			cl.allPlans = true
		} else {
			cl.plans[*it.MealPlanID] = true
		}
		cl.items = append(cl.items, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].date.Equal(out[j].date) {
			return out[i].date.Before(out[j].date)
		}
		return out[i].remoteRoom < out[j].remoteRoom
	})
	return out, gaps
}

// lookup fills cl.day from the local calendars. Missing local data is skipped.
func (s *ProcessorService) lookup(ctx context.Context, c domain.ChannelConnection, cl *cell) error {
	rd := domain.RoomDay{RemoteRoomID: cl.remoteRoom}
	filled := false

	if cl.aspects.Has(domain.AspectAvailability) {
		a, err := s.inv.GetAvailability(ctx, c.HotelID, cl.roomType, cl.date)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return fmt.Errorf("availability: %w", err)
		default:
			rd.Availability = &a.Rooms
			rd.StopSale = &a.StopSell
			filled = true
		}
	}

	wantRates := cl.aspects.Has(domain.AspectRates)
	wantRestr := cl.aspects.Has(domain.AspectRestrictions)
	if wantRates || wantRestr {
		mapped := map[int64]bool{}
		for _, rm := range c.RateMappings(cl.roomType) {
			mapped[rm.LocalMealPlanID] = true
			if !cl.allPlans && !cl.plans[rm.LocalMealPlanID] {
				continue
			}
			pt, err := s.rates.GetRates(ctx, c.HotelID, cl.roomType, rm.LocalMealPlanID, cl.date)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				continue
			case err != nil:
				return fmt.Errorf("rates for meal plan %d: %w", rm.LocalMealPlanID, err)
			}
			rp := domain.RatePlanDay{RemoteRateID: rm.RemoteRateID}
			if wantRates && len(pt.Prices) > 0 {
				if err := pt.Prices.Validate(); err != nil {
					// a bad local price table must not hold back the rest of the call
					log.Warn().Err(err).Int64("connection_id", c.ID).Int64("room_type_id", cl.roomType).
						Int64("meal_plan_id", rm.LocalMealPlanID).Time("date", cl.date).Msg("invalid local prices, skipped")
				} else {
					rp.Prices = pt.Prices
				}
			}
			if wantRestr && pt.MinStay != nil && *pt.MinStay < 0 {
				log.Warn().Int64("connection_id", c.ID).Int64("room_type_id", cl.roomType).
					Int64("meal_plan_id", rm.LocalMealPlanID).Int("min_stay", *pt.MinStay).Msg("invalid min stay, skipped")
				pt.MinStay = nil
			}
			if wantRestr {
				rp.MinStay, rp.Closed = pt.MinStay, pt.Closed
			}
			if len(rp.Prices) == 0 && rp.MinStay == nil && rp.Closed == nil {
				continue
			}
			rd.RatePlans = append(rd.RatePlans, rp)
			cl.rateIDs[rm.RemoteRateID] = true
			filled = true
		}
		for mp := range cl.plans {
			if !mapped[mp] {
				log.Warn().Int64("connection_id", c.ID).Int64("room_type_id", cl.roomType).Int64("meal_plan_id", mp).
					Err(domain.ErrMappingGap).Msg("meal plan not mapped, skipped")
			}
		}
	}

	if filled {
		cl.day = &rd
	}
	return nil
}

func buildUpdate(cells []*cell) domain.InventoryUpdate {
	var u domain.InventoryUpdate
	byDate := map[time.Time]int{}
	for _, cl := range cells {
		i, ok := byDate[cl.date]
		if !ok {
			u.Days = append(u.Days, domain.InventoryDay{Date: cl.date})
			i = len(u.Days) - 1
			byDate[cl.date] = i
		}
		u.Days[i].Rooms = append(u.Days[i].Rooms, *cl.day)
	}
	return u
}

// attribute maps every rejection onto the cells it refers to. ok is false when
// any rejection cannot be tied to a sent cell.
func attribute(cells []*cell, rej []domain.ItemRejection) (map[*cell][]string, bool) {
	out := map[*cell][]string{}
	for _, r := range rej {
		if r.Date == nil || r.ID == "" {
			return nil, false
		}
		hit := false
		for _, cl := range cells {
			if !cl.date.Equal(domain.Day(*r.Date)) {
				continue
			}
			if cl.remoteRoom == r.ID || cl.rateIDs[r.ID] {
				out[cl] = append(out[cl], r.Description)
				hit = true
			}
		}
		if !hit {
			return nil, false
		}
	}
	return out, true
}

func describe(rej []domain.ItemRejection) string {
	parts := make([]string, 0, len(rej))
	for _, r := range rej {
		parts = append(parts, strings.TrimSpace(r.Type+" "+r.ID+": "+r.Description))
	}
	return strings.Join(parts, "; ")
}

func cellItems(cells []*cell) []domain.PendingSyncItem {
	var out []domain.PendingSyncItem
	for _, cl := range cells {
		out = append(out, cl.items...)
	}
	return out
}

func itemIDs(items []domain.PendingSyncItem) []int64 {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func (s *ProcessorService) done(ctx context.Context, items []domain.PendingSyncItem) FlushReport {
	if len(items) == 0 {
		return FlushReport{}
	}
	if err := s.queue.Delete(ctx, itemIDs(items)); err != nil {
		// rows stay in processing and come back through RecoverStale
		return FlushReport{Errors: []error{fmt.Errorf("delete synced items: %w", err)}}
	}
	return FlushReport{Synced: len(items)}
}

func (s *ProcessorService) discard(ctx context.Context, items []domain.PendingSyncItem) FlushReport {
	if err := s.queue.Delete(ctx, itemIDs(items)); err != nil {
		return FlushReport{Errors: []error{fmt.Errorf("discard items: %w", err)}}
	}
	return FlushReport{Discarded: len(items)}
}

// retry applies the failure transition to every item on its own.
func (s *ProcessorService) retry(ctx context.Context, items []domain.PendingSyncItem, cause error) FlushReport {
	rep := FlushReport{Errors: []error{cause}}
	msg := cause.Error()
	now := s.now()
	for _, it := range items {
		attempts := it.Attempts + 1
		maxAttempts := it.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = s.maxAttempts
		}
		if attempts >= maxAttempts {
			if err := s.queue.MarkFailed(ctx, it.ID, attempts, msg); err != nil {
				rep.Errors = append(rep.Errors, fmt.Errorf("mark item %d failed: %w", it.ID, err))
				continue
			}
			log.Warn().Int64("item_id", it.ID).Int64("connection_id", it.ConnectionID).Int("attempts", attempts).
				Str("error", msg).Msg("sync item failed permanently")
			rep.Failed++
			continue
		}
		if err := s.queue.Reschedule(ctx, it, attempts, now.Add(Backoff(attempts)), msg); err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("reschedule item %d: %w", it.ID, err))
			continue
		}
		rep.Retried++
	}
	return rep
}
