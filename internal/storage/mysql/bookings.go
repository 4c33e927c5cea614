package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"hotel_channel/internal/domain"
)

func (r *Repo) FindByExternalRef(ctx context.Context, hotelID int64, ref string) (domain.Booking, error) {
	var (
		b                  domain.Booking
		status             string
		ota, token, reason sql.NullString
		guest, rooms       []byte
		total              decimal.Decimal
		cancelledAt        sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, findBookingByRefSQL, hotelID, ref).Scan(
		&b.ID, &b.BookingNumber, &b.HotelID, &b.ConnectionID, &b.ExternalBookingRef, &status, &b.Source,
		&ota, &b.CheckIn, &b.CheckOut, &guest, &rooms, &b.Currency, &total, &token,
		&reason, &cancelledAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Booking{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Booking{}, err
	}
	b.Status = domain.BookingStatus(status)
	b.OTA = ota.String
	b.ChangeToken = token.String
	b.CancellationReason = nullStr(reason)
	b.CancelledAt = nullTime(cancelledAt)
	b.TotalAmount = total
	b.CheckIn = domain.Day(b.CheckIn)
	b.CheckOut = domain.Day(b.CheckOut)
	if err := json.Unmarshal(guest, &b.Guest); err != nil {
		return domain.Booking{}, err
	}
	if err := json.Unmarshal(rooms, &b.Rooms); err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

func (r *Repo) Create(ctx context.Context, b *domain.Booking) error {
	guest, rooms, err := bookingJSON(b)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, insertBookingSQL,
		b.BookingNumber,
		b.HotelID,
		b.ConnectionID,
		b.ExternalBookingRef,
		string(b.Status),
		b.Source,
		valNonEmpty(b.OTA),
		domain.Day(b.CheckIn),
		domain.Day(b.CheckOut),
		guest,
		rooms,
		b.Currency,
		b.TotalAmount.StringFixed(2),
		valNonEmpty(b.ChangeToken),
	)
	if isDuplicate(err) {
		return domain.ErrDuplicate
	}
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id
	return nil
}

func (r *Repo) Update(ctx context.Context, b *domain.Booking) error {
	guest, rooms, err := bookingJSON(b)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, updateBookingSQL,
		string(b.Status),
		valNonEmpty(b.OTA),
		domain.Day(b.CheckIn),
		domain.Day(b.CheckOut),
		guest,
		rooms,
		b.Currency,
		b.TotalAmount.StringFixed(2),
		valNonEmpty(b.ChangeToken),
		b.ID,
	)
	return err
}

func (r *Repo) Cancel(ctx context.Context, id int64, reason string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, cancelBookingSQL, valNonEmpty(reason), at.UTC(), id)
	return err
}

func (r *Repo) AppendSnapshot(ctx context.Context, s domain.BookingSnapshot) error {
	payload, err := json.Marshal(s.Booking)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, insertSnapshotSQL, s.BookingID, s.Reason, s.TakenAt.UTC(), string(payload))
	return err
}

func bookingJSON(b *domain.Booking) (string, string, error) {
	g, err := json.Marshal(b.Guest)
	if err != nil {
		return "", "", err
	}
	rm, err := json.Marshal(orEmpty(b.Rooms))
	if err != nil {
		return "", "", err
	}
	return string(g), string(rm), nil
}
