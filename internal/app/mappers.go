package app

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"hotel_channel/internal/domain"
)

/********** reservation -> booking **********/

var errNoStayDates = errors.New("reservation has no usable stay dates")

// mapRooms resolves every remote room to a local room type. A single unmapped
// room makes the whole reservation a mapping gap.
func mapRooms(c *domain.ChannelConnection, r domain.ExternalReservation) ([]domain.BookingRoom, error) {
	if len(r.Rooms) == 0 {
		return nil, fmt.Errorf("%w: reservation %s has no rooms", domain.ErrMappingGap, r.Number)
	}
	out := make([]domain.BookingRoom, 0, len(r.Rooms))
	for _, rm := range r.Rooms {
		rt, ok := c.LocalRoomType(rm.RemoteRoomID)
		if !ok {
			return nil, fmt.Errorf("%w: reservation %s remote room %q", domain.ErrMappingGap, r.Number, rm.RemoteRoomID)
		}
		br := domain.BookingRoom{
			RoomTypeID:   rt,
			RemoteRoomID: rm.RemoteRoomID,
			RemoteRateID: rm.RemoteRateID,
			Adults:       rm.Adults,
			Children:     rm.Children,
			Guests:       withPlaceholders(rm.Guests, rm.Occupancy()),
			Nights:       rm.Prices,
			Total:        roomTotal(rm),
		}
		if mp, ok := c.LocalMealPlan(rm.RemoteRoomID, rm.RemoteRateID); ok {
			br.MealPlanID = &mp
		}
		out = append(out, br)
	}
	return out, nil
}

// withPlaceholders pads named guests up to the room occupancy ("Guest 2", "Guest 3", ...).
func withPlaceholders(named []domain.Guest, pax int) []domain.Guest {
	out := append([]domain.Guest(nil), named...)
	for n := len(out) + 1; n <= pax; n++ {
		out = append(out, domain.Guest{FirstName: "Guest", LastName: strconv.Itoa(n)})
	}
	return out
}

func roomTotal(rm domain.ExternalRoom) decimal.Decimal {
	if rm.Total != nil {
		return *rm.Total
	}
	sum := decimal.Zero
	for _, p := range rm.Prices {
		sum = sum.Add(p.Amount)
	}
	return sum
}

func leadGuest(r domain.ExternalReservation, rooms []domain.BookingRoom) domain.Guest {
	if r.Guest.Named() {
		return r.Guest
	}
	for _, rm := range rooms {
		for _, g := range rm.Guests {
			if g.Named() {
				return g
			}
		}
	}
	return domain.Guest{FirstName: "Guest", LastName: "1"}
}

// applyReservation projects r onto b, keeping b's identity fields.
func applyReservation(b *domain.Booking, c *domain.ChannelConnection, r domain.ExternalReservation) error {
	if r.CheckIn.IsZero() || r.CheckOut.IsZero() || !r.CheckOut.After(r.CheckIn) {
		return fmt.Errorf("%w: %s", errNoStayDates, r.Number)
	}
	rooms, err := mapRooms(c, r)
	if err != nil {
		return err
	}
	total := decimal.Zero
	for _, rm := range rooms {
		total = total.Add(rm.Total)
	}
	if r.Amount != nil {
		total = *r.Amount
	}

	b.HotelID = c.HotelID
	b.ConnectionID = c.ID
	b.ExternalBookingRef = r.Number
	b.Source = domain.BookingSourceChannel
	b.OTA = r.OTA
	b.CheckIn = domain.Day(r.CheckIn)
	b.CheckOut = domain.Day(r.CheckOut)
	b.Rooms = rooms
	b.Guest = leadGuest(r, rooms)
	b.Currency = r.Currency
	b.TotalAmount = total
	b.ChangeToken = r.ChangeToken
	return nil
}

func newBooking(c *domain.ChannelConnection, r domain.ExternalReservation, number string) (domain.Booking, error) {
	b := domain.Booking{BookingNumber: number, Status: domain.BookingConfirmed}
	if err := applyReservation(&b, c, r); err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}
