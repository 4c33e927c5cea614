package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"hotel_channel/internal/adapters/observability"
	"hotel_channel/internal/domain"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, req domain.ChangeRequest) (int, error)
}

// Notifier takes rate changes off the mutation path. Notify never blocks:
// when the buffer is full the request is dropped and counted.
type Notifier struct {
	q       Enqueuer
	reqs    chan domain.ChangeRequest
	errs    chan error
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewNotifier(q Enqueuer, buffer, workers int) *Notifier {
	if buffer <= 0 {
		buffer = 1024
	}
	if workers <= 0 {
		workers = 2
	}
	n := &Notifier{
		q:       q,
		reqs:    make(chan domain.ChangeRequest, buffer),
		errs:    make(chan error, 64),
		timeout: 10 * time.Second,
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.work()
	}
	return n
}

func (n *Notifier) Notify(req domain.ChangeRequest) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		observability.ObserveEnqueue("dropped")
		return false
	}
	select {
	case n.reqs <- req:
		observability.ObserveEnqueue("accepted")
		return true
	default:
		observability.ObserveEnqueue("dropped")
		log.Warn().Int64("hotel_id", req.HotelID).Int64("room_type_id", req.RoomTypeID).Msg("notify buffer full, change dropped")
		return false
	}
}

// Errors reports failed enqueues. Errors are dropped if nobody reads them.
// The channel is closed once Close has drained the workers.
func (n *Notifier) Errors() <-chan error { return n.errs }

// Close stops accepting, drains what is buffered, waits for the workers and
// closes Errors. It is safe to call more than once.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.reqs)
	n.mu.Unlock()
	n.wg.Wait()
	close(n.errs)
}

func (n *Notifier) work() {
	defer n.wg.Done()
	for req := range n.reqs {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		_, err := n.q.Enqueue(ctx, req)
		cancel()
		if err == nil {
			continue
		}
		observability.ObserveEnqueue("failed")
		log.Error().Err(err).Int64("hotel_id", req.HotelID).Int64("room_type_id", req.RoomTypeID).Msg("enqueue failed")
		select {
		case n.errs <- fmt.Errorf("hotel %d room type %d: %w", req.HotelID, req.RoomTypeID, err):
		default:
		}
	}
}
