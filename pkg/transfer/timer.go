package transfer

import "time"

// Clock abstracts wall-clock reads so retry timeouts can be driven by tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// retryTimer answers "has the timeout passed since the last reset". It owns no
// goroutine; the engine polls it on every tick.
type retryTimer struct {
	clock   Clock
	timeout time.Duration
	last    time.Time
	running bool
}

func newRetryTimer(clock Clock) *retryTimer {
	return &retryTimer{clock: clock}
}

func (r *retryTimer) start(timeout time.Duration) {
	r.timeout = timeout
	r.last = r.clock.Now()
	r.running = true
}

func (r *retryTimer) reset() {
	r.last = r.clock.Now()
}

func (r *retryTimer) stop() {
	r.running = false
}

func (r *retryTimer) elapsed() bool {
	return r.running && r.clock.Now().Sub(r.last) >= r.timeout
}
