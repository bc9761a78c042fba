package transfer

import (
	"bytes"
	"sync"
	"time"

	"github.com/Wa4h1h/tftp-engine/pkg/types"
)

type fakeChannel struct {
	mu      sync.Mutex
	handler Handler
	sent    []types.Command
	openErr error
	sendErr error
	closed  int
}

func (c *fakeChannel) Open(h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.openErr != nil {
		return c.openErr
	}

	c.handler = h

	return nil
}

func (c *fakeChannel) Send(cmd types.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendErr != nil {
		return c.sendErr
	}

	c.sent = append(c.sent, cmd)

	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed++

	return nil
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.sent)
}

func (c *fakeChannel) last() types.Command {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.sent) == 0 {
		return nil
	}

	return c.sent[len(c.sent)-1]
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// sink is a destination stream that records whether it was closed.
type sink struct {
	bytes.Buffer
	closed bool
}

func (s *sink) Close() error {
	s.closed = true

	return nil
}

// source is a sized source stream that records whether it was closed.
type source struct {
	*bytes.Reader
	closed bool
}

func newSource(b []byte) *source {
	return &source{Reader: bytes.NewReader(b)}
}

func (s *source) Close() error {
	s.closed = true

	return nil
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func isDone(t *Transfer) bool {
	select {
	case <-t.Done():
		return true
	default:
		return false
	}
}

func drain(ch <-chan Progress) []Progress {
	var out []Progress

	for p := range ch {
		out = append(out, p)
	}

	return out
}
