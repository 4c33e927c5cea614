package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotel_channel/internal/app"
	"hotel_channel/internal/domain"
)

func TestEnqueue_TargetsTwoWayConnectionsCoveringRoomType(t *testing.T) {
	oneWay := twoWay(2, 100)
	oneWay.Mode = domain.ModeOneWay
	inactive := twoWay(3, 100)
	inactive.Status = domain.ConnectionInactive
	unmapped := twoWay(4, 100)
	unmapped.RoomMappings = nil
	inError := twoWay(5, 100)
	inError.Status = domain.ConnectionError

	store := &memConnStore{conns: []domain.ChannelConnection{twoWay(1, 100), oneWay, inactive, unmapped, inError, twoWay(6, 200)}}
	q := newMemQueue()
	svc := app.NewQueueService(store, q, 0)

	n, err := svc.Enqueue(context.Background(), domain.ChangeRequest{
		HotelID: 100, RoomTypeID: 1, From: day(2024, 6, 15), To: day(2024, 6, 17),
	})
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	items := q.pending()
	require.Len(t, items, 6)
	perConn := map[int64]int{}
	for _, it := range items {
		perConn[it.ConnectionID]++
		assert.Equal(t, domain.AspectAll, it.Aspects)
		assert.Equal(t, domain.DefaultMaxAttempts, it.MaxAttempts)
	}
	assert.Equal(t, map[int64]int{1: 3, 5: 3}, perConn)
}

func TestEnqueue_UnionOfAspectsWhilePending(t *testing.T) {
	store := &memConnStore{conns: []domain.ChannelConnection{twoWay(1, 100)}}
	q := newMemQueue()
	svc := app.NewQueueService(store, q, 0)
	ctx := context.Background()

	reqs := []domain.ChangeRequest{
		{HotelID: 100, RoomTypeID: 1, From: day(2024, 6, 15), Fields: []string{"availability"}, RateIDs: []int64{10}},
		{HotelID: 100, RoomTypeID: 1, From: day(2024, 6, 15), Fields: []string{"price"}, RateIDs: []int64{10}, Priority: 5},
		{HotelID: 100, RoomTypeID: 1, From: day(2024, 6, 15), Fields: []string{"availability"}, RateIDs: []int64{11}},
	}
	for _, r := range reqs {
		_, err := svc.Enqueue(ctx, r)
		require.NoError(t, err)
	}

	items := q.pending()
	require.Len(t, items, 1)
	assert.Equal(t, domain.AspectAvailability|domain.AspectRates, items[0].Aspects)
	assert.Nil(t, items[0].MealPlanID, "differing meal plans widen to all")
	assert.Equal(t, 5, items[0].Priority)
}

func TestEnqueue_RejectsBadRequests(t *testing.T) {
	svc := app.NewQueueService(&memConnStore{}, newMemQueue(), 0)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, domain.ChangeRequest{HotelID: 1, From: day(2024, 1, 1)})
	assert.ErrorIs(t, err, app.ErrBadChangeRequest)

	_, err = svc.Enqueue(ctx, domain.ChangeRequest{HotelID: 1, RoomTypeID: 1, From: day(2024, 1, 1), To: day(2026, 6, 1)})
	assert.ErrorIs(t, err, app.ErrBadChangeRequest)
}

// blockingEnqueuer parks every call until released.
type blockingEnqueuer struct {
	started chan struct{}
	release chan struct{}
	err     error
	calls   chan domain.ChangeRequest
}

func (b *blockingEnqueuer) Enqueue(_ context.Context, req domain.ChangeRequest) (int, error) {
	if b.started != nil {
		b.started <- struct{}{}
	}
	if b.release != nil {
		<-b.release
	}
	if b.calls != nil {
		b.calls <- req
	}
	return 1, b.err
}

func TestNotifier_DropsWhenFull(t *testing.T) {
	enq := &blockingEnqueuer{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
		calls:   make(chan domain.ChangeRequest, 4),
	}
	n := app.NewNotifier(enq, 1, 1)

	require.True(t, n.Notify(domain.ChangeRequest{HotelID: 1}))
	<-enq.started // the only worker is busy now

	assert.True(t, n.Notify(domain.ChangeRequest{HotelID: 2}), "fits in the buffer")
	assert.False(t, n.Notify(domain.ChangeRequest{HotelID: 3}), "buffer full")

	close(enq.release)
	n.Close()
	close(enq.calls)

	var got []int64
	for r := range enq.calls {
		got = append(got, r.HotelID)
	}
	assert.Equal(t, []int64{1, 2}, got)
	assert.False(t, n.Notify(domain.ChangeRequest{HotelID: 4}), "closed notifier accepts nothing")
}

func TestNotifier_ReportsFailures(t *testing.T) {
	enq := &blockingEnqueuer{err: errors.New("db down")}
	n := app.NewNotifier(enq, 4, 1)
	defer n.Close()

	require.True(t, n.Notify(domain.ChangeRequest{HotelID: 9, RoomTypeID: 3}))
	select {
	case err := <-n.Errors():
		assert.ErrorContains(t, err, "hotel 9 room type 3")
		assert.ErrorContains(t, err, "db down")
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported")
	}
}

func TestNotifier_CloseEndsErrorStream(t *testing.T) {
	enq := &blockingEnqueuer{err: errors.New("db down")}
	n := app.NewNotifier(enq, 4, 2)

	done := make(chan int)
	go func() {
		seen := 0
		for range n.Errors() {
			seen++
		}
		done <- seen
	}()

	require.True(t, n.Notify(domain.ChangeRequest{HotelID: 1, RoomTypeID: 1}))
	require.True(t, n.Notify(domain.ChangeRequest{HotelID: 2, RoomTypeID: 1}))
	n.Close()
	n.Close()

	select {
	case seen := <-done:
		assert.Equal(t, 2, seen)
	case <-time.After(2 * time.Second):
		t.Fatal("Errors() still open after Close")
	}
}
