package app_test

import (
	"bytes"
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"hotel_channel/internal/domain"
)

// ---- fixtures ----

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func ptr[T any](v T) *T { return &v }

// captureLog routes the global logger into a buffer until the test ends.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func twoWay(id, hotelID int64) domain.ChannelConnection {
	return domain.ChannelConnection{
		ID:       id,
		HotelID:  hotelID,
		Provider: "otagw",
		Mode:     domain.ModeTwoWay,
		Status:   domain.ConnectionActive,
		RoomMappings: []domain.RoomMapping{
			{LocalRoomTypeID: 1, RemoteRoomID: "R1", RateMappings: []domain.RateMapping{{LocalMealPlanID: 10, RemoteRateID: "BB"}}},
			{LocalRoomTypeID: 2, RemoteRoomID: "R2"},
		},
	}
}

// ---- connections ----

type syncMark struct {
	ID       int64
	Category domain.SyncCategory
}

// fakeConns is the registry as seen by the jobs.
type fakeConns struct {
	mu          sync.Mutex
	byID        map[int64]domain.ChannelConnection
	endpointErr error
	synced      []syncMark
	errors      []string
	markErrErr  error
}

func newFakeConns(cs ...domain.ChannelConnection) *fakeConns {
	f := &fakeConns{byID: map[int64]domain.ChannelConnection{}}
	for _, c := range cs {
		f.byID[c.ID] = c
	}
	return f
}

func (f *fakeConns) Get(_ context.Context, id int64) (domain.ChannelConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return domain.ChannelConnection{}, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeConns) ListSyncable(context.Context) ([]domain.ChannelConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ChannelConnection
	for _, c := range f.byID {
		if c.Syncable() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeConns) Endpoint(_ context.Context, c domain.ChannelConnection) (domain.Endpoint, error) {
	if f.endpointErr != nil {
		return domain.Endpoint{}, f.endpointErr
	}
	return domain.Endpoint{ConnectionID: c.ID, Credentials: domain.Credentials{UserID: "u", PropertyID: "p"}}, nil
}

func (f *fakeConns) MarkSynced(_ context.Context, c domain.ChannelConnection, cat domain.SyncCategory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, syncMark{ID: c.ID, Category: cat})
	return nil
}

func (f *fakeConns) MarkError(_ context.Context, c domain.ChannelConnection, msg, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, msg)
	return f.markErrErr
}

// memConnStore backs the registry and the enqueue path.
type memConnStore struct {
	mu       sync.Mutex
	conns    []domain.ChannelConnection
	sealed   map[int64][]byte
	statuses map[int64]domain.ConnectionStatus
	lastErr  map[int64]*domain.SyncError
	synced   []syncMark
	keyAsked string
}

func (m *memConnStore) GetConnection(_ context.Context, id int64) (domain.ChannelConnection, error) {
	for _, c := range m.conns {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.ChannelConnection{}, domain.ErrNotFound
}

func (m *memConnStore) ListConnections(_ context.Context, f domain.ConnectionFilter) ([]domain.ChannelConnection, error) {
	var out []domain.ChannelConnection
	for _, c := range m.conns {
		if f.HotelID != nil && c.HotelID != *f.HotelID {
			continue
		}
		if !f.IncludeInactive && c.Status == domain.ConnectionInactive {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memConnStore) FindByPropertyKey(_ context.Context, provider, key string) (domain.ChannelConnection, error) {
	m.keyAsked = key
	for _, c := range m.conns {
		if c.Provider == provider && c.PropertyKey == key && c.Status != domain.ConnectionInactive {
			return c, nil
		}
	}
	return domain.ChannelConnection{}, domain.ErrNotFound
}

func (m *memConnStore) CreateConnection(_ context.Context, c *domain.ChannelConnection, sealed []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = int64(len(m.conns) + 1)
	m.conns = append(m.conns, *c)
	if m.sealed == nil {
		m.sealed = map[int64][]byte{}
	}
	m.sealed[c.ID] = sealed
	return nil
}

func (m *memConnStore) UpdateMappings(_ context.Context, id int64, ms []domain.RoomMapping) error {
	for i := range m.conns {
		if m.conns[i].ID == id {
			m.conns[i].RoomMappings = ms
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memConnStore) SetStatus(_ context.Context, id int64, st domain.ConnectionStatus, lastErr *domain.SyncError) error {
	if m.statuses == nil {
		m.statuses = map[int64]domain.ConnectionStatus{}
		m.lastErr = map[int64]*domain.SyncError{}
	}
	m.statuses[id] = st
	m.lastErr[id] = lastErr
	return nil
}

func (m *memConnStore) MarkSynced(_ context.Context, id int64, cat domain.SyncCategory, _ time.Time) error {
	m.synced = append(m.synced, syncMark{ID: id, Category: cat})
	return nil
}

// ---- queue ----

type reschedule struct {
	ID        int64
	Attempts  int
	NotBefore time.Time
	Err       string
}

type memQueue struct {
	mu          sync.Mutex
	nextID      int64
	items       map[int64]*domain.PendingSyncItem
	deleted     []int64
	rescheduled []reschedule
	failed      []int64

	purgeBefore   time.Time
	recoverBefore time.Time
	purgeErr      error
}

func newMemQueue() *memQueue { return &memQueue{items: map[int64]*domain.PendingSyncItem{}} }

// put stores it as is and returns its id.
func (q *memQueue) put(it domain.PendingSyncItem) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	it.ID = q.nextID
	if it.Status == "" {
		it.Status = domain.ItemPending
	}
	q.items[it.ID] = &it
	return it.ID
}

func (q *memQueue) Upsert(_ context.Context, it domain.PendingSyncItem) error {
	q.mu.Lock()
	for _, cur := range q.items {
		if cur.Status != domain.ItemPending || cur.ConnectionID != it.ConnectionID ||
			cur.RoomTypeID != it.RoomTypeID || !cur.TargetDate.Equal(it.TargetDate) {
			continue
		}
		cur.Aspects = cur.Aspects.Union(it.Aspects)
		if cur.MealPlanID == nil || it.MealPlanID == nil || *cur.MealPlanID != *it.MealPlanID {
			cur.MealPlanID = nil
		}
		if it.Priority > cur.Priority {
			cur.Priority = it.Priority
		}
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()
	q.put(it)
	return nil
}

func (q *memQueue) Claim(_ context.Context, now time.Time, limit int) (domain.ClaimedBatch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ready []*domain.PendingSyncItem
	for _, it := range q.items {
		if it.Status == domain.ItemPending && !it.NotBefore.After(now) {
			ready = append(ready, it)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.TargetDate.Equal(b.TargetDate) {
			return a.TargetDate.Before(b.TargetDate)
		}
		return a.ID < b.ID
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}
	batch := domain.ClaimedBatch{Token: "tok-" + strconv.Itoa(len(ready))}
	for _, it := range ready {
		it.Status = domain.ItemProcessing
		batch.Items = append(batch.Items, *it)
	}
	return batch, nil
}

func (q *memQueue) Delete(_ context.Context, ids []int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		delete(q.items, id)
	}
	q.deleted = append(q.deleted, ids...)
	return nil
}

func (q *memQueue) Reschedule(_ context.Context, it domain.PendingSyncItem, attempts int, notBefore time.Time, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur := q.items[it.ID]
	cur.Status = domain.ItemPending
	cur.Attempts = attempts
	cur.NotBefore = notBefore
	cur.LastError = &lastErr
	q.rescheduled = append(q.rescheduled, reschedule{ID: it.ID, Attempts: attempts, NotBefore: notBefore, Err: lastErr})
	return nil
}

func (q *memQueue) MarkFailed(_ context.Context, id int64, attempts int, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur := q.items[id]
	cur.Status = domain.ItemFailed
	cur.Attempts = attempts
	cur.LastError = &lastErr
	q.failed = append(q.failed, id)
	return nil
}

func (q *memQueue) PurgeFailed(_ context.Context, before time.Time) (int64, error) {
	q.purgeBefore = before
	return 2, q.purgeErr
}

func (q *memQueue) RecoverStale(_ context.Context, before time.Time) (int64, error) {
	q.recoverBefore = before
	return 1, nil
}

func (q *memQueue) pending() []domain.PendingSyncItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.PendingSyncItem
	for _, it := range q.items {
		if it.Status == domain.ItemPending {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetDate.Before(out[j].TargetDate) })
	return out
}

// ---- logs ----

type memLogs struct {
	purgeBefore time.Time
}

func (l *memLogs) InsertLog(context.Context, domain.ChannelLogEntry) error { return nil }

func (l *memLogs) PurgeLogs(_ context.Context, before time.Time) (int64, error) {
	l.purgeBefore = before
	return 7, nil
}

// ---- local calendars ----

type calKey struct {
	roomType int64
	mealPlan int64
	date     string
}

type fakeCalendar struct {
	avail map[calKey]domain.Availability
	rates map[calKey]domain.PriceTable
	err   error
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{avail: map[calKey]domain.Availability{}, rates: map[calKey]domain.PriceTable{}}
}

func (f *fakeCalendar) setAvail(rt int64, d time.Time, n int) {
	f.avail[calKey{roomType: rt, date: d.Format(time.DateOnly)}] = domain.Availability{Rooms: n}
}

func (f *fakeCalendar) setStopSell(rt int64, d time.Time, n int) {
	f.avail[calKey{roomType: rt, date: d.Format(time.DateOnly)}] = domain.Availability{Rooms: n, StopSell: true}
}

func (f *fakeCalendar) GetAvailability(_ context.Context, _, rt int64, d time.Time) (domain.Availability, error) {
	if f.err != nil {
		return domain.Availability{}, f.err
	}
	a, ok := f.avail[calKey{roomType: rt, date: d.Format(time.DateOnly)}]
	if !ok {
		return domain.Availability{}, domain.ErrNotFound
	}
	return a, nil
}

func (f *fakeCalendar) GetRates(_ context.Context, _, rt, mp int64, d time.Time) (domain.PriceTable, error) {
	if f.err != nil {
		return domain.PriceTable{}, f.err
	}
	pt, ok := f.rates[calKey{roomType: rt, mealPlan: mp, date: d.Format(time.DateOnly)}]
	if !ok {
		return domain.PriceTable{}, domain.ErrNotFound
	}
	return pt, nil
}

// ---- gateway ----

type fakeGateway struct {
	mu           sync.Mutex
	updates      []domain.InventoryUpdate
	invResult    *domain.InventoryResult
	invErr       error
	reservations []domain.ExternalReservation
	fetchErr     error
	fetches      int
	confirms     [][]domain.ConfirmItem
	confirmErr   error
}

func (g *fakeGateway) FetchProducts(context.Context, domain.Endpoint) ([]domain.Product, error) {
	return nil, nil
}

func (g *fakeGateway) FetchReservations(context.Context, domain.Endpoint, bool) ([]domain.ExternalReservation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return append([]domain.ExternalReservation(nil), g.reservations...), nil
}

func (g *fakeGateway) ConfirmReservations(_ context.Context, _ domain.Endpoint, items []domain.ConfirmItem) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirms = append(g.confirms, items)
	return g.confirmErr
}

func (g *fakeGateway) UpdateInventory(_ context.Context, _ domain.Endpoint, u domain.InventoryUpdate) (domain.InventoryResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates = append(g.updates, u)
	if g.invErr != nil {
		return domain.InventoryResult{}, g.invErr
	}
	if g.invResult != nil {
		return *g.invResult, nil
	}
	return domain.InventoryResult{Success: true, RQID: "rq-1"}, nil
}

func (g *fakeGateway) FetchOTAs(context.Context, domain.Endpoint) ([]domain.OTA, error) {
	return nil, nil
}

func (g *fakeGateway) FetchOTAProducts(context.Context, domain.Endpoint, string) ([]domain.OTAProduct, error) {
	return nil, nil
}

// ---- bookings ----

type memBookings struct {
	mu        sync.Mutex
	nextID    int64
	byRef     map[string]*domain.Booking
	snapshots []domain.BookingSnapshot
	creates   int
}

func newMemBookings() *memBookings { return &memBookings{byRef: map[string]*domain.Booking{}} }

func (m *memBookings) FindByExternalRef(_ context.Context, _ int64, ref string) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byRef[ref]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return *b, nil
}

func (m *memBookings) Create(_ context.Context, b *domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRef[b.ExternalBookingRef]; ok {
		return domain.ErrDuplicate
	}
	m.nextID++
	m.creates++
	b.ID = m.nextID
	cp := *b
	m.byRef[b.ExternalBookingRef] = &cp
	return nil
}

func (m *memBookings) Update(_ context.Context, b *domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRef[b.ExternalBookingRef]; !ok {
		return domain.ErrNotFound
	}
	cp := *b
	m.byRef[b.ExternalBookingRef] = &cp
	return nil
}

func (m *memBookings) Cancel(_ context.Context, id int64, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.byRef {
		if b.ID == id {
			b.Status = domain.BookingCancelled
			b.CancellationReason = &reason
			b.CancelledAt = &at
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memBookings) AppendSnapshot(_ context.Context, s domain.BookingSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, s)
	return nil
}

func (m *memBookings) get(ref string) (domain.Booking, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byRef[ref]
	if !ok {
		return domain.Booking{}, false
	}
	return *b, true
}
