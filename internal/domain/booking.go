package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

const BookingSourceChannel = "channel"

type BookingRoom struct {
	RoomTypeID   int64           `json:"roomTypeId"`
	MealPlanID   *int64          `json:"mealPlanId,omitempty"`
	RemoteRoomID string          `json:"remoteRoomId"`
	RemoteRateID string          `json:"remoteRateId"`
	Adults       int             `json:"adults"`
	Children     int             `json:"children"`
	Guests       []Guest         `json:"guests"`
	Nights       []NightPrice    `json:"nights"`
	Total        decimal.Decimal `json:"total"`
}

// Booking is the local projection of a channel reservation.
// ExternalBookingRef is the idempotency key across repeated polls.
type Booking struct {
	ID                 int64           `json:"id"`
	BookingNumber      string          `json:"bookingNumber"`
	HotelID            int64           `json:"hotelId"`
	ConnectionID       int64           `json:"connectionId"`
	ExternalBookingRef string          `json:"externalBookingRef"`
	Status             BookingStatus   `json:"status"`
	Source             string          `json:"source"`
	OTA                string          `json:"ota,omitempty"`
	CheckIn            time.Time       `json:"checkIn"`
	CheckOut           time.Time       `json:"checkOut"`
	Guest              Guest           `json:"guest"`
	Rooms              []BookingRoom   `json:"rooms"`
	Currency           string          `json:"currency"`
	TotalAmount        decimal.Decimal `json:"totalAmount"`
	ChangeToken        string          `json:"changeToken,omitempty"`
	CancellationReason *string         `json:"cancellationReason,omitempty"`
	CancelledAt        *time.Time      `json:"cancelledAt,omitempty"`
}

// BookingSnapshot is a full pre-change copy kept before a modification.
type BookingSnapshot struct {
	BookingID int64     `json:"bookingId"`
	Reason    string    `json:"reason"`
	TakenAt   time.Time `json:"takenAt"`
	Booking   Booking   `json:"booking"`
}
