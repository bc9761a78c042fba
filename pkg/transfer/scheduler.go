package transfer

import (
	"context"
	"sync"
	"time"
)

const DefaultTickInterval = 500 * time.Millisecond

// Ticker is anything the Scheduler drives. *Transfer and the role wrappers
// implement it.
type Ticker interface {
	Tick()
	Done() <-chan struct{}
}

// Scheduler calls Tick on every registered transfer at a fixed interval and
// forgets transfers once they are done.
type Scheduler struct {
	mu       sync.Mutex
	interval time.Duration
	tickers  map[Ticker]struct{}
}

func NewScheduler(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	return &Scheduler{
		interval: interval,
		tickers:  make(map[Ticker]struct{}),
	}
}

func (s *Scheduler) Add(t Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tickers[t] = struct{}{}
}

func (s *Scheduler) Remove(t Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tickers, t)
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.tickers)
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.TickAll()
		}
	}
}

// TickAll runs one round. Tick is called outside the scheduler lock so a
// transfer may add or remove tickers while handling it.
func (s *Scheduler) TickAll() {
	s.mu.Lock()
	snapshot := make([]Ticker, 0, len(s.tickers))

	for t := range s.tickers {
		snapshot = append(snapshot, t)
	}
	s.mu.Unlock()

	for _, t := range snapshot {
		select {
		case <-t.Done():
			s.Remove(t)

			continue
		default:
		}

		t.Tick()
	}
}
