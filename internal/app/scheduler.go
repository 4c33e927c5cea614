package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"hotel_channel/internal/adapters/observability"
	"hotel_channel/internal/domain"
)

type RunState int32

const (
	StateIdle RunState = iota
	StateRunning
)

func (s RunState) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// RunGuard is the idle/running switch of one job. A run only starts from idle.
type RunGuard struct {
	state atomic.Int32
}

func (g *RunGuard) TryStart() bool {
	return g.state.CompareAndSwap(int32(StateIdle), int32(StateRunning))
}

func (g *RunGuard) Finish() {
	g.state.Store(int32(StateIdle))
}

func (g *RunGuard) State() RunState {
	return RunState(g.state.Load())
}

// Job is one periodic unit of work owned by the scheduler.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	// Lock, when set, makes the job exclusive across processes.
	Lock    domain.RunLock
	LockTTL time.Duration

	guard RunGuard
}

func (j *Job) State() RunState { return j.guard.State() }

type Scheduler struct {
	jobs []*Job
	wg   sync.WaitGroup
}

func NewScheduler(jobs ...*Job) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// Start blocks until ctx is done, then waits for in-flight runs.
// A firing that finds its job still running is skipped, never queued.
func (s *Scheduler) Start(ctx context.Context) {
	tickers := make([]*time.Ticker, len(s.jobs))
	fire := make(chan *Job)
	for i, j := range s.jobs {
		tickers[i] = time.NewTicker(j.Interval)
		go func(t *time.Ticker, j *Job) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					select {
					case fire <- j:
					case <-ctx.Done():
						return
					}
				}
			}
		}(tickers[i], j)
	}
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case j := <-fire:
			s.Fire(ctx, j)
		}
	}
}

// Fire starts one run of j in the background unless it is already running.
// It reports whether a run was started.
func (s *Scheduler) Fire(ctx context.Context, j *Job) bool {
	if !j.guard.TryStart() {
		observability.ObserveJobSkipped(j.Name)
		log.Warn().Str("job", j.Name).Msg("previous run still in progress, skipped")
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer j.guard.Finish()
		s.run(ctx, j)
	}()
	return true
}

// Wait blocks until every started run has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) run(ctx context.Context, j *Job) {
	if j.Lock != nil {
		ttl := j.LockTTL
		if ttl <= 0 {
			ttl = 2 * j.Interval
		}
		release, ok, err := j.Lock.Acquire(ctx, j.Name, ttl)
		if err != nil {
			log.Error().Err(err).Str("job", j.Name).Msg("lock acquire failed")
			observability.ObserveJob(j.Name, err, 0)
			return
		}
		if !ok {
			observability.ObserveJobSkipped(j.Name)
			log.Debug().Str("job", j.Name).Msg("held by another instance, skipped")
			return
		}
		defer func() {
			// release must outlive a canceled run context
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := release(rctx); err != nil {
				log.Warn().Err(err).Str("job", j.Name).Msg("lock release failed")
			}
		}()
	}

	start := time.Now()
	err := j.Run(ctx)
	observability.ObserveJob(j.Name, err, time.Since(start))
	if err != nil {
		log.Error().Err(err).Str("job", j.Name).Dur("took", time.Since(start)).Msg("job failed")
		return
	}
	log.Debug().Str("job", j.Name).Dur("took", time.Since(start)).Msg("job done")
}
