package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "A"
	ReservationCancelled ReservationStatus = "C"
	ReservationModified  ReservationStatus = "M"
)

type Guest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

func (g Guest) Named() bool { return g.FirstName != "" || g.LastName != "" }

type NightPrice struct {
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

type ExternalRoom struct {
	RemoteRoomID string
	RemoteRateID string
	Adults       int
	Children     int
	Pax          int
	Guests       []Guest
	Prices       []NightPrice
	Total        *decimal.Decimal
}

// Occupancy is the declared pax, falling back to adults+children.
func (r ExternalRoom) Occupancy() int {
	if r.Pax > 0 {
		return r.Pax
	}
	return r.Adults + r.Children
}

// ExternalReservation is one parsed reservation record from the gateway.
// It is consumed right away by the reconciler and never stored as is.
type ExternalReservation struct {
	Number      string
	Status      ReservationStatus
	OTA         string
	Guest       Guest
	Currency    string
	Amount      *decimal.Decimal
	CheckIn     time.Time
	CheckOut    time.Time
	Rooms       []ExternalRoom
	ChangeToken string
	Remarks     string
}

// ConfirmItem acknowledges one processed reservation to the gateway.
type ConfirmItem struct {
	ReservationID string
	LocalID       string
	ChangeToken   string
}

type Product struct {
	RemoteRoomID string
	Name         string
	Rates        []ProductRate
}

type ProductRate struct {
	RemoteRateID string
	Name         string
}

type OTA struct {
	ID     string
	Name   string
	Active bool
}

type OTAProduct struct {
	OTAID        string
	RemoteRoomID string
	RemoteRateID string
	OTARoomID    string
	OTARateID    string
}
