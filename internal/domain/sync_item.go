package domain

import (
	"sort"
	"strings"
	"time"
)

// SyncAspect is a set of things that need re-sync for a room/date.
// Stored as a bit mask so the storage layer can merge with a bitwise OR.
type SyncAspect uint8

const (
	AspectAvailability SyncAspect = 1 << iota
	AspectRates
	AspectRestrictions

	AspectAll = AspectAvailability | AspectRates | AspectRestrictions
)

var aspectNames = map[SyncAspect]string{
	AspectAvailability: "availability",
	AspectRates:        "rates",
	AspectRestrictions: "restrictions",
}

func (a SyncAspect) Has(b SyncAspect) bool { return a&b == b && b != 0 }

func (a SyncAspect) Union(b SyncAspect) SyncAspect { return a | b }

func (a SyncAspect) Strings() []string {
	out := make([]string, 0, 3)
	for _, bit := range []SyncAspect{AspectAvailability, AspectRates, AspectRestrictions} {
		if a&bit != 0 {
			out = append(out, aspectNames[bit])
		}
	}
	return out
}

func (a SyncAspect) String() string { return strings.Join(a.Strings(), ",") }

// fieldAspects maps local mutation field names to the aspect they affect.
var fieldAspects = map[string]SyncAspect{
	"availability": AspectAvailability,
	"allotment":    AspectAvailability,
	"inventory":    AspectAvailability,
	"rooms":        AspectAvailability,
	"stop_sell":    AspectAvailability,
	"stopsale":     AspectAvailability,

	"price":      AspectRates,
	"prices":     AspectRates,
	"rate":       AspectRates,
	"rates":      AspectRates,
	"base_price": AspectRates,
	"occupancy":  AspectRates,

	"min_stay":   AspectRestrictions,
	"minstay":    AspectRestrictions,
	"max_stay":   AspectRestrictions,
	"closed":     AspectRestrictions,
	"cta":        AspectRestrictions,
	"ctd":        AspectRestrictions,
	"restricted": AspectRestrictions,
}

// AspectsForFields resolves changed field names into aspects.
// No fields, or any field we do not know, means everything.
func AspectsForFields(fields []string) SyncAspect {
	if len(fields) == 0 {
		return AspectAll
	}
	var out SyncAspect
	for _, f := range fields {
		a, ok := fieldAspects[strings.ToLower(strings.TrimSpace(f))]
		if !ok {
			return AspectAll
		}
		out |= a
	}
	return out
}

type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemFailed     ItemStatus = "failed"
)

const DefaultMaxAttempts = 5

type PendingSyncItem struct {
	ID           int64
	HotelID      int64
	ConnectionID int64
	RoomTypeID   int64
	MealPlanID   *int64 // nil means every mapped meal plan
	TargetDate   time.Time
	Aspects      SyncAspect
	Status       ItemStatus
	Priority     int
	Attempts     int
	MaxAttempts  int
	LastError    *string
	NotBefore    time.Time
	ClaimToken   *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChangeRequest declares that a room type needs re-sync over a date range.
type ChangeRequest struct {
	HotelID    int64     `json:"hotelId"`
	RoomTypeID int64     `json:"roomTypeId"`
	RateIDs    []int64   `json:"rateIds,omitempty"`
	Fields     []string  `json:"fields,omitempty"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to,omitempty"`
	Priority   int       `json:"priority,omitempty"`
}

// Dates expands the request range into UTC midnights, inclusive on both ends.
func (r ChangeRequest) Dates() []time.Time {
	from := Day(r.From)
	to := from
	if !r.To.IsZero() {
		to = Day(r.To)
	}
	if to.Before(from) {
		from, to = to, from
	}
	var out []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// MealPlanFor picks the item meal plan: a single affected plan is tracked,
// anything else widens to all plans.
func (r ChangeRequest) MealPlanFor() *int64 {
	ids := uniqueIDs(r.RateIDs)
	if len(ids) == 1 {
		id := ids[0]
		return &id
	}
	return nil
}

func uniqueIDs(in []int64) []int64 {
	seen := make(map[int64]struct{}, len(in))
	out := make([]int64, 0, len(in))
	for _, id := range in {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ClaimedBatch is what the queue returns from a claim.
type ClaimedBatch struct {
	Token string
	Items []PendingSyncItem
}
