package domain

import "time"

type RatePlanDay struct {
	RemoteRateID string
	Prices       OccupancyPrices
	MinStay      *int
	Closed       *bool
}

type RoomDay struct {
	RemoteRoomID string
	Availability *int
	StopSale     *bool
	RatePlans    []RatePlanDay
}

// Availability is the local inventory of one room type on one day.
// StopSell closes the room type for sale regardless of Rooms.
type Availability struct {
	Rooms    int
	StopSell bool
}

type InventoryDay struct {
	Date  time.Time
	Rooms []RoomDay
}

// InventoryUpdate is a day → room type → rate plan tree pushed in one call.
type InventoryUpdate struct {
	Days []InventoryDay
}

func (u InventoryUpdate) Empty() bool {
	for _, d := range u.Days {
		if len(d.Rooms) > 0 {
			return false
		}
	}
	return true
}

// ItemRejection is one sub-item the gateway refused inside an otherwise accepted call.
type ItemRejection struct {
	Type        string
	ID          string
	Date        *time.Time
	Description string
}

// InventoryResult is a possibly partial outcome: Rejections lists refused cells,
// everything else in the request was applied.
type InventoryResult struct {
	Success    bool
	RQID       string
	Rejections []ItemRejection
}
