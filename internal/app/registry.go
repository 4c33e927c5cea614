package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"hotel_channel/internal/domain"
)

// Sealer encrypts credentials before they touch storage.
type Sealer interface {
	Seal(c domain.Credentials) ([]byte, error)
}

type RegistryService struct {
	store     domain.ConnectionStore
	creds     domain.CredentialStore
	sealer    Sealer
	lookupKey []byte
	now       func() time.Time
}

func NewRegistryService(store domain.ConnectionStore, creds domain.CredentialStore, sealer Sealer, lookupKey []byte) *RegistryService {
	return &RegistryService{store: store, creds: creds, sealer: sealer, lookupKey: lookupKey, now: time.Now}
}

// PropertyKey is the deterministic, non-secret index used to resolve inbound
// webhooks without decrypting every connection.
func PropertyKey(lookupKey []byte, provider, propertyID string) string {
	m := hmac.New(sha256.New, lookupKey)
	m.Write([]byte(strings.ToLower(strings.TrimSpace(provider)) + "|" + strings.TrimSpace(propertyID)))
	return hex.EncodeToString(m.Sum(nil))
}

func (s *RegistryService) Get(ctx context.Context, id int64) (domain.ChannelConnection, error) {
	return s.store.GetConnection(ctx, id)
}

func (s *RegistryService) ListSyncable(ctx context.Context) ([]domain.ChannelConnection, error) {
	return s.store.ListConnections(ctx, domain.ConnectionFilter{})
}

// ListForHotel includes switched-off connections.
func (s *RegistryService) ListForHotel(ctx context.Context, hotelID int64) ([]domain.ChannelConnection, error) {
	return s.store.ListConnections(ctx, domain.ConnectionFilter{HotelID: &hotelID, IncludeInactive: true})
}

// Endpoint loads the decrypted login of a connection.
func (s *RegistryService) Endpoint(ctx context.Context, c domain.ChannelConnection) (domain.Endpoint, error) {
	cr, err := s.Credentials(ctx, c.ID)
	if err != nil {
		return domain.Endpoint{}, err
	}
	return domain.Endpoint{ConnectionID: c.ID, Credentials: cr}, nil
}

func (s *RegistryService) Credentials(ctx context.Context, id int64) (domain.Credentials, error) {
	cr, err := s.creds.Get(ctx, id)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("credentials for connection %d: %w", id, err)
	}
	return cr, nil
}

// NewConnection is the operator input for Create.
type NewConnection struct {
	HotelID      int64
	Provider     string
	Mode         domain.IntegrationMode
	Credentials  domain.Credentials
	RoomMappings []domain.RoomMapping
}

func (s *RegistryService) Create(ctx context.Context, in NewConnection) (domain.ChannelConnection, error) {
	if in.HotelID <= 0 || strings.TrimSpace(in.Provider) == "" {
		return domain.ChannelConnection{}, errors.New("hotel id and provider are required")
	}
	if in.Mode != domain.ModeOneWay && in.Mode != domain.ModeTwoWay {
		return domain.ChannelConnection{}, fmt.Errorf("unknown integration mode %q", in.Mode)
	}
	cr := in.Credentials
	if cr.UserID == "" || cr.PropertyID == "" || cr.BaseURL == "" {
		return domain.ChannelConnection{}, errors.New("user id, property id and base url are required")
	}
	if err := validateMappings(in.RoomMappings); err != nil {
		return domain.ChannelConnection{}, err
	}

	sealed, err := s.sealer.Seal(cr)
	if err != nil {
		return domain.ChannelConnection{}, fmt.Errorf("seal credentials: %w", err)
	}
	c := domain.ChannelConnection{
		HotelID:      in.HotelID,
		Provider:     strings.ToLower(strings.TrimSpace(in.Provider)),
		Mode:         in.Mode,
		Status:       domain.ConnectionActive,
		PropertyKey:  PropertyKey(s.lookupKey, in.Provider, cr.PropertyID),
		RoomMappings: in.RoomMappings,
	}
	if err := s.store.CreateConnection(ctx, &c, sealed); err != nil {
		return domain.ChannelConnection{}, err
	}
	return c, nil
}

func validateMappings(ms []domain.RoomMapping) error {
	seenLocal := map[int64]bool{}
	seenRemote := map[string]bool{}
	for _, m := range ms {
		if m.LocalRoomTypeID <= 0 || m.RemoteRoomID == "" {
			return fmt.Errorf("room mapping needs both ids (local %d, remote %q)", m.LocalRoomTypeID, m.RemoteRoomID)
		}
		if seenLocal[m.LocalRoomTypeID] || seenRemote[m.RemoteRoomID] {
			return fmt.Errorf("room %d/%s mapped twice", m.LocalRoomTypeID, m.RemoteRoomID)
		}
		seenLocal[m.LocalRoomTypeID] = true
		seenRemote[m.RemoteRoomID] = true
		rates := map[string]bool{}
		for _, r := range m.RateMappings {
			if r.LocalMealPlanID <= 0 || r.RemoteRateID == "" || rates[r.RemoteRateID] {
				return fmt.Errorf("room %s: bad rate mapping %+v", m.RemoteRoomID, r)
			}
			rates[r.RemoteRateID] = true
		}
	}
	return nil
}

func (s *RegistryService) UpdateMappings(ctx context.Context, id int64, ms []domain.RoomMapping) error {
	if err := validateMappings(ms); err != nil {
		return err
	}
	return s.store.UpdateMappings(ctx, id, ms)
}

func (s *RegistryService) SetStatus(ctx context.Context, id int64, st domain.ConnectionStatus) error {
	return s.store.SetStatus(ctx, id, st, nil)
}

// MarkSynced records the sync time and clears an error state.
func (s *RegistryService) MarkSynced(ctx context.Context, c domain.ChannelConnection, cat domain.SyncCategory) error {
	if err := s.store.MarkSynced(ctx, c.ID, cat, s.now().UTC()); err != nil {
		return err
	}
	if c.Status == domain.ConnectionError {
		return s.store.SetStatus(ctx, c.ID, domain.ConnectionActive, nil)
	}
	return nil
}

// MarkError flips health to error unless an operator switched the connection off.
func (s *RegistryService) MarkError(ctx context.Context, c domain.ChannelConnection, msg, where string) error {
	st := domain.ConnectionError
	if c.Status == domain.ConnectionInactive {
		st = domain.ConnectionInactive
	}
	return s.store.SetStatus(ctx, c.ID, st, &domain.SyncError{Message: msg, At: s.now().UTC(), Context: where})
}

// ResolveByProperty finds the live connection a webhook call belongs to.
func (s *RegistryService) ResolveByProperty(ctx context.Context, provider, propertyID string) (domain.ChannelConnection, error) {
	if strings.TrimSpace(propertyID) == "" {
		return domain.ChannelConnection{}, domain.ErrNotFound
	}
	return s.store.FindByPropertyKey(ctx, strings.ToLower(strings.TrimSpace(provider)), PropertyKey(s.lookupKey, provider, propertyID))
}
