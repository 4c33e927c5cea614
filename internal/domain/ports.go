package domain

import (
	"context"
	"time"
)

type ConnectionFilter struct {
	HotelID         *int64
	Provider        string
	IncludeInactive bool
}

type ConnectionStore interface {
	GetConnection(ctx context.Context, id int64) (ChannelConnection, error)
	ListConnections(ctx context.Context, f ConnectionFilter) ([]ChannelConnection, error)
	FindByPropertyKey(ctx context.Context, provider, key string) (ChannelConnection, error)
	CreateConnection(ctx context.Context, c *ChannelConnection, sealedCredentials []byte) error
	UpdateMappings(ctx context.Context, id int64, m []RoomMapping) error
	SetStatus(ctx context.Context, id int64, st ConnectionStatus, lastErr *SyncError) error
	MarkSynced(ctx context.Context, id int64, cat SyncCategory, at time.Time) error
}

type CredentialStore interface {
	Get(ctx context.Context, connectionID int64) (Credentials, error)
}

type QueueStore interface {
	// Upsert inserts a pending item or merges it into the existing pending one.
	Upsert(ctx context.Context, it PendingSyncItem) error
	Claim(ctx context.Context, now time.Time, limit int) (ClaimedBatch, error)
	Delete(ctx context.Context, ids []int64) error
	Reschedule(ctx context.Context, it PendingSyncItem, attempts int, notBefore time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id int64, attempts int, lastErr string) error
	PurgeFailed(ctx context.Context, before time.Time) (int64, error)
	RecoverStale(ctx context.Context, before time.Time) (int64, error)
}

type ChannelLogStore interface {
	InsertLog(ctx context.Context, e ChannelLogEntry) error
	PurgeLogs(ctx context.Context, before time.Time) (int64, error)
}

type InventoryLookup interface {
	GetAvailability(ctx context.Context, hotelID, roomTypeID int64, date time.Time) (Availability, error)
}

type RateLookup interface {
	GetRates(ctx context.Context, hotelID, roomTypeID, mealPlanID int64, date time.Time) (PriceTable, error)
}

type BookingRepository interface {
	FindByExternalRef(ctx context.Context, hotelID int64, ref string) (Booking, error)
	Create(ctx context.Context, b *Booking) error
	Update(ctx context.Context, b *Booking) error
	Cancel(ctx context.Context, id int64, reason string, at time.Time) error
	AppendSnapshot(ctx context.Context, s BookingSnapshot) error
}

// Endpoint is who we are talking to on the gateway side.
type Endpoint struct {
	ConnectionID int64
	Credentials  Credentials
}

type Gateway interface {
	FetchProducts(ctx context.Context, ep Endpoint) ([]Product, error)
	FetchReservations(ctx context.Context, ep Endpoint, withPrices bool) ([]ExternalReservation, error)
	ConfirmReservations(ctx context.Context, ep Endpoint, items []ConfirmItem) error
	UpdateInventory(ctx context.Context, ep Endpoint, u InventoryUpdate) (InventoryResult, error)
	FetchOTAs(ctx context.Context, ep Endpoint) ([]OTA, error)
	FetchOTAProducts(ctx context.Context, ep Endpoint, otaID string) ([]OTAProduct, error)
}

// RunLock gives system-wide mutual exclusion for a named job.
type RunLock interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}
