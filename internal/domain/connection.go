package domain

import "time"

type IntegrationMode string

const (
	ModeOneWay IntegrationMode = "one_way"
	ModeTwoWay IntegrationMode = "two_way"
)

type ConnectionStatus string

const (
	ConnectionActive   ConnectionStatus = "active"
	ConnectionInactive ConnectionStatus = "inactive"
	ConnectionError    ConnectionStatus = "error"
)

// SyncCategory names one of the last-sync timestamps kept per connection.
type SyncCategory string

const (
	SyncReservations SyncCategory = "reservations"
	SyncInventory    SyncCategory = "inventory"
	SyncProducts     SyncCategory = "products"
)

type RateMapping struct {
	LocalMealPlanID int64  `json:"localMealPlanId"`
	RemoteRateID    string `json:"remoteRateId"`
}

type RoomMapping struct {
	LocalRoomTypeID int64         `json:"localRoomTypeId"`
	RemoteRoomID    string        `json:"remoteRoomId"`
	RateMappings    []RateMapping `json:"rateMappings"`
}

type SyncError struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
	Context string    `json:"context,omitempty"`
}

type LastSync struct {
	Reservations *time.Time
	Inventory    *time.Time
	Products     *time.Time
}

// ChannelConnection is one hotel's link to one external gateway.
// Credentials are not part of it; they live behind CredentialStore.
type ChannelConnection struct {
	ID           int64
	HotelID      int64
	Provider     string
	Mode         IntegrationMode
	Status       ConnectionStatus
	PropertyKey  string // keyed hash of the remote property id, used by webhooks
	RoomMappings []RoomMapping
	LastSync     LastSync
	LastError    *SyncError
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Syncable reports whether the connection may still talk to the gateway.
// A connection in error keeps syncing; only an operator can switch it off.
func (c *ChannelConnection) Syncable() bool {
	return c != nil && c.Status != ConnectionInactive
}

func (c *ChannelConnection) PushesInventory() bool {
	return c.Syncable() && c.Mode == ModeTwoWay
}

func (c *ChannelConnection) roomMapping(localRoomTypeID int64) *RoomMapping {
	for i := range c.RoomMappings {
		if c.RoomMappings[i].LocalRoomTypeID == localRoomTypeID {
			return &c.RoomMappings[i]
		}
	}
	return nil
}

// Covers reports whether a local room type has a remote counterpart.
func (c *ChannelConnection) Covers(localRoomTypeID int64) bool {
	m := c.roomMapping(localRoomTypeID)
	return m != nil && m.RemoteRoomID != ""
}

func (c *ChannelConnection) RemoteRoomID(localRoomTypeID int64) (string, bool) {
	if m := c.roomMapping(localRoomTypeID); m != nil && m.RemoteRoomID != "" {
		return m.RemoteRoomID, true
	}
	return "", false
}

func (c *ChannelConnection) LocalRoomType(remoteRoomID string) (int64, bool) {
	for _, m := range c.RoomMappings {
		if m.RemoteRoomID == remoteRoomID {
			return m.LocalRoomTypeID, true
		}
	}
	return 0, false
}

func (c *ChannelConnection) RateMappings(localRoomTypeID int64) []RateMapping {
	if m := c.roomMapping(localRoomTypeID); m != nil {
		return m.RateMappings
	}
	return nil
}

// LocalMealPlan resolves a remote rate id within the given remote room.
func (c *ChannelConnection) LocalMealPlan(remoteRoomID, remoteRateID string) (int64, bool) {
	for _, m := range c.RoomMappings {
		if m.RemoteRoomID != remoteRoomID {
			continue
		}
		for _, r := range m.RateMappings {
			if r.RemoteRateID == remoteRateID {
				return r.LocalMealPlanID, true
			}
		}
	}
	return 0, false
}

// Credentials are the decrypted gateway login of a connection.
type Credentials struct {
	UserID     string `json:"userId"`
	Password   string `json:"password"`
	PropertyID string `json:"propertyId"`
	BaseURL    string `json:"baseUrl"`
}
