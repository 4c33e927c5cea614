package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"hotel_channel/internal/domain"
)

const (
	bookingPrefix     = "CH-"
	placeholderPrefix = "CXL-"

	cancelReason   = "cancelled by channel"
	snapshotReason = "channel_modification"
)

type PollResult struct {
	ConnectionID int64
	Fetched      int
	Created      int
	Modified     int
	Cancelled    int
	Unchanged    int
	Skipped      int
	Confirmed    int
	Errors       []error
}

type ReconcilerService struct {
	conns    Connections
	gw       domain.Gateway
	bookings domain.BookingRepository
	ids      *snowflake.Node
	sf       singleflight.Group
	now      func() time.Time
}

func NewReconcilerService(c Connections, gw domain.Gateway, b domain.BookingRepository, node *snowflake.Node) *ReconcilerService {
	return &ReconcilerService{conns: c, gw: gw, bookings: b, ids: node, now: time.Now}
}

// Poll pulls the reservation list of one connection, applies every record
// locally and acknowledges the processed ones in a single confirm call.
// Only a failed fetch is returned as an error; per-reservation problems are
// collected in the result.
func (s *ReconcilerService) Poll(ctx context.Context, c domain.ChannelConnection) (PollResult, error) {
	res := PollResult{ConnectionID: c.ID}
	if !c.Syncable() {
		return res, domain.ErrConnectionInactive
	}

	ep, err := s.conns.Endpoint(ctx, c)
	if err != nil {
		markError(ctx, s.conns, c, err, domain.SyncReservations)
		return res, err
	}
	list, err := s.gw.FetchReservations(ctx, ep, true)
	if err != nil {
		markError(ctx, s.conns, c, err, domain.SyncReservations)
		return res, fmt.Errorf("fetch reservations for connection %d: %w", c.ID, err)
	}
	res.Fetched = len(list)

	var confirms []domain.ConfirmItem
	for _, r := range list {
		localID, err := s.apply(ctx, &c, r, &res)
		if err != nil {
			if errors.Is(err, domain.ErrMappingGap) {
				res.Skipped++
				log.Warn().Err(err).Int64("connection_id", c.ID).Str("reservation", r.Number).Msg("reservation skipped")
				continue
			}
			res.Errors = append(res.Errors, fmt.Errorf("reservation %s: %w", r.Number, err))
			continue
		}
		confirms = append(confirms, domain.ConfirmItem{ReservationID: r.Number, LocalID: localID, ChangeToken: r.ChangeToken})
	}

	if len(confirms) > 0 {
		if err := s.gw.ConfirmReservations(ctx, ep, confirms); err != nil {
			// the gateway resends unconfirmed reservations on the next poll
			log.Error().Err(err).Int64("connection_id", c.ID).Int("items", len(confirms)).Msg("confirm failed")
			res.Errors = append(res.Errors, fmt.Errorf("confirm: %w", err))
		} else {
			res.Confirmed = len(confirms)
		}
	}

	if err := s.conns.MarkSynced(ctx, c, domain.SyncReservations); err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("mark synced: %w", err))
	}
	log.Info().
		Int64("connection_id", c.ID).
		Int("fetched", res.Fetched).
		Int("created", res.Created).
		Int("modified", res.Modified).
		Int("cancelled", res.Cancelled).
		Int("unchanged", res.Unchanged).
		Int("skipped", res.Skipped).
		Int("confirmed", res.Confirmed).
		Int("errors", len(res.Errors)).
		Msg("reservations reconciled")
	return res, nil
}

// apply runs one reservation through the state machine and returns the local
// number to confirm it with.
func (s *ReconcilerService) apply(ctx context.Context, c *domain.ChannelConnection, r domain.ExternalReservation, res *PollResult) (string, error) {
	if r.Number == "" {
		return "", errors.New("reservation without number")
	}
	existing, err := s.bookings.FindByExternalRef(ctx, c.HotelID, r.Number)
	found := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("lookup booking: %w", err)
	}

	switch r.Status {
	case domain.ReservationCancelled:
		if !found {
			res.Cancelled++
			return s.number(placeholderPrefix), nil
		}
		if existing.Status == domain.BookingCancelled {
			res.Unchanged++
			return existing.BookingNumber, nil
		}
		if err := s.bookings.Cancel(ctx, existing.ID, cancelReason, s.now().UTC()); err != nil {
			return "", fmt.Errorf("cancel booking %d: %w", existing.ID, err)
		}
		res.Cancelled++
		return existing.BookingNumber, nil

	case domain.ReservationModified:
		if !found {
			return s.create(ctx, c, r, res)
		}
		if existing.Status == domain.BookingCancelled ||
			(r.ChangeToken != "" && r.ChangeToken == existing.ChangeToken) {
			res.Unchanged++
			return existing.BookingNumber, nil
		}
		next := existing
		if err := applyReservation(&next, c, r); err != nil {
			return "", err
		}
		snap := domain.BookingSnapshot{BookingID: existing.ID, Reason: snapshotReason, TakenAt: s.now().UTC(), Booking: existing}
		if err := s.bookings.AppendSnapshot(ctx, snap); err != nil {
			return "", fmt.Errorf("snapshot booking %d: %w", existing.ID, err)
		}
		if err := s.bookings.Update(ctx, &next); err != nil {
			return "", fmt.Errorf("update booking %d: %w", existing.ID, err)
		}
		res.Modified++
		return next.BookingNumber, nil

	case domain.ReservationActive, "":
		if found {
			res.Unchanged++
			return existing.BookingNumber, nil
		}
		return s.create(ctx, c, r, res)

	default:
		return "", fmt.Errorf("unknown reservation status %q", r.Status)
	}
}

func (s *ReconcilerService) create(ctx context.Context, c *domain.ChannelConnection, r domain.ExternalReservation, res *PollResult) (string, error) {
	b, err := newBooking(c, r, s.number(bookingPrefix))
	if err != nil {
		return "", err
	}
	err = s.bookings.Create(ctx, &b)
	if errors.Is(err, domain.ErrDuplicate) {
		// a concurrent pass got there first
		prev, ferr := s.bookings.FindByExternalRef(ctx, c.HotelID, r.Number)
		if ferr != nil {
			return "", fmt.Errorf("reload booking: %w", ferr)
		}
		res.Unchanged++
		return prev.BookingNumber, nil
	}
	if err != nil {
		return "", fmt.Errorf("create booking: %w", err)
	}
	res.Created++
	return b.BookingNumber, nil
}

func (s *ReconcilerService) number(prefix string) string {
	return prefix + s.ids.Generate().String()
}

// PollAll reconciles every syncable connection in turn.
func (s *ReconcilerService) PollAll(ctx context.Context) ([]PollResult, error) {
	conns, err := s.conns.ListSyncable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	out := make([]PollResult, 0, len(conns))
	for _, c := range conns {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		res, err := s.Poll(ctx, c)
		if err != nil {
			log.Error().Err(err).Int64("connection_id", c.ID).Msg("reservation poll failed")
			res.Errors = append(res.Errors, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// Trigger runs an on-demand pass for one connection. Concurrent triggers for
// the same connection share a single pass.
func (s *ReconcilerService) Trigger(ctx context.Context, connID int64) (PollResult, error) {
	v, err, shared := s.sf.Do(strconv.FormatInt(connID, 10), func() (any, error) {
		c, err := s.conns.Get(ctx, connID)
		if err != nil {
			return PollResult{ConnectionID: connID}, err
		}
		return s.Poll(ctx, c)
	})
	if shared {
		log.Debug().Int64("connection_id", connID).Msg("reconcile trigger joined running pass")
	}
	res, _ := v.(PollResult)
	return res, err
}
