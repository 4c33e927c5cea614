package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"hotel_channel/internal/domain"
)

// GetAvailability returns ErrNotFound when the PMS has no row for that day.
func (r *Repo) GetAvailability(ctx context.Context, hotelID, roomTypeID int64, date time.Time) (domain.Availability, error) {
	var a domain.Availability
	err := r.db.QueryRowContext(ctx, availabilitySQL, hotelID, roomTypeID, domain.Day(date)).Scan(&a.Rooms, &a.StopSell)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Availability{}, domain.ErrNotFound
	}
	return a, err
}

// GetRates reads one rate calendar cell. prices is a JSON object keyed by occupancy.
func (r *Repo) GetRates(ctx context.Context, hotelID, roomTypeID, mealPlanID int64, date time.Time) (domain.PriceTable, error) {
	var (
		raw     []byte
		minStay sql.NullInt64
		closed  sql.NullBool
	)
	err := r.db.QueryRowContext(ctx, ratesSQL, hotelID, roomTypeID, mealPlanID, domain.Day(date)).Scan(&raw, &minStay, &closed)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PriceTable{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PriceTable{}, err
	}

	var byKey map[string]decimal.Decimal
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return domain.PriceTable{}, fmt.Errorf("rate_calendar prices: %w", err)
	}
	pt := domain.PriceTable{Prices: make(domain.OccupancyPrices, len(byKey))}
	for k, v := range byKey {
		occ, err := strconv.Atoi(k)
		if err != nil {
			return domain.PriceTable{}, fmt.Errorf("rate_calendar prices: occupancy %q", k)
		}
		pt.Prices[occ] = v
	}
	if minStay.Valid {
		m := int(minStay.Int64)
		pt.MinStay = &m
	}
	if closed.Valid {
		c := closed.Bool
		pt.Closed = &c
	}
	return pt, nil
}
