package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotel_channel/internal/app"
	"hotel_channel/internal/domain"
)

type fakeSealer struct{ sealed []domain.Credentials }

func (s *fakeSealer) Seal(c domain.Credentials) ([]byte, error) {
	s.sealed = append(s.sealed, c)
	return []byte("sealed:" + c.PropertyID), nil
}

type fakeCreds map[int64]domain.Credentials

func (f fakeCreds) Get(_ context.Context, id int64) (domain.Credentials, error) {
	c, ok := f[id]
	if !ok {
		return domain.Credentials{}, domain.ErrNotFound
	}
	return c, nil
}

var lookupKey = []byte("0123456789abcdef0123456789abcdef")

func TestPropertyKey(t *testing.T) {
	k := app.PropertyKey(lookupKey, "OTAGW", " 4711 ")
	assert.Len(t, k, 64)
	assert.Equal(t, k, app.PropertyKey(lookupKey, "otagw", "4711"))
	assert.NotEqual(t, k, app.PropertyKey(lookupKey, "otagw", "4712"))
	assert.NotEqual(t, k, app.PropertyKey(lookupKey, "other", "4711"))
	assert.NotEqual(t, k, app.PropertyKey([]byte("another key"), "otagw", "4711"))
}

func newConnectionInput() app.NewConnection {
	return app.NewConnection{
		HotelID:  100,
		Provider: "OtaGW",
		Mode:     domain.ModeTwoWay,
		Credentials: domain.Credentials{
			UserID: "user", Password: "secret", PropertyID: "4711", BaseURL: "https://gw.example",
		},
		RoomMappings: []domain.RoomMapping{{LocalRoomTypeID: 1, RemoteRoomID: "R1"}},
	}
}

func TestRegistry_CreateAndResolve(t *testing.T) {
	store := &memConnStore{}
	sealer := &fakeSealer{}
	reg := app.NewRegistryService(store, fakeCreds{}, sealer, lookupKey)
	ctx := context.Background()

	c, err := reg.Create(ctx, newConnectionInput())
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.ID)
	assert.Equal(t, "otagw", c.Provider)
	assert.Equal(t, domain.ConnectionActive, c.Status)
	assert.Equal(t, app.PropertyKey(lookupKey, "otagw", "4711"), c.PropertyKey)
	assert.Equal(t, []byte("sealed:4711"), store.sealed[1])
	require.Len(t, sealer.sealed, 1)

	got, err := reg.ResolveByProperty(ctx, "OTAGW", "4711")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = reg.ResolveByProperty(ctx, "otagw", "9999")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = reg.ResolveByProperty(ctx, "otagw", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistry_CreateValidates(t *testing.T) {
	reg := app.NewRegistryService(&memConnStore{}, fakeCreds{}, &fakeSealer{}, lookupKey)
	ctx := context.Background()

	in := newConnectionInput()
	in.Mode = "three_way"
	_, err := reg.Create(ctx, in)
	assert.Error(t, err)

	in = newConnectionInput()
	in.Credentials.BaseURL = ""
	_, err = reg.Create(ctx, in)
	assert.Error(t, err)

	in = newConnectionInput()
	in.RoomMappings = append(in.RoomMappings, domain.RoomMapping{LocalRoomTypeID: 2, RemoteRoomID: "R1"})
	_, err = reg.Create(ctx, in)
	assert.ErrorContains(t, err, "mapped twice")
}

func TestRegistry_HealthTransitions(t *testing.T) {
	store := &memConnStore{}
	reg := app.NewRegistryService(store, fakeCreds{}, &fakeSealer{}, lookupKey)
	ctx := context.Background()

	c := twoWay(1, 100)
	require.NoError(t, reg.MarkError(ctx, c, "boom", "inventory"))
	assert.Equal(t, domain.ConnectionError, store.statuses[1])
	require.NotNil(t, store.lastErr[1])
	assert.Equal(t, "boom", store.lastErr[1].Message)

	c.Status = domain.ConnectionError
	require.NoError(t, reg.MarkSynced(ctx, c, domain.SyncInventory))
	assert.Equal(t, domain.ConnectionActive, store.statuses[1], "success clears the error state")
	assert.Equal(t, []syncMark{{ID: 1, Category: domain.SyncInventory}}, store.synced)

	off := twoWay(2, 100)
	off.Status = domain.ConnectionInactive
	require.NoError(t, reg.MarkError(ctx, off, "late failure", "reservations"))
	assert.Equal(t, domain.ConnectionInactive, store.statuses[2], "operator switch-off wins")
}

func TestRegistry_Endpoint(t *testing.T) {
	creds := fakeCreds{1: {UserID: "u", Password: "p", PropertyID: "4711", BaseURL: "http://gw"}}
	reg := app.NewRegistryService(&memConnStore{}, creds, &fakeSealer{}, lookupKey)

	ep, err := reg.Endpoint(context.Background(), twoWay(1, 100))
	require.NoError(t, err)
	assert.Equal(t, int64(1), ep.ConnectionID)
	assert.Equal(t, "4711", ep.Credentials.PropertyID)

	_, err = reg.Endpoint(context.Background(), twoWay(2, 100))
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
