// Package transfer drives a single TFTP transfer: request, option negotiation,
// lock-step DATA/ACK exchange, retransmission on timeout, and completion or
// cancellation.
//
// A transfer owns no goroutine. Inbound commands arrive through the Handler
// methods, timeouts are detected when Tick is called (see Scheduler), and all
// entry points are serialised by a per-transfer mutex.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Wa4h1h/tftp-engine/pkg/options"
	"github.com/Wa4h1h/tftp-engine/pkg/types"
	"github.com/Wa4h1h/tftp-engine/pkg/utils"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DefaultRetryCount = 5
	progressBuffer    = 16
)

// Progress is reported after every block that was written or acknowledged.
// Expected is -1 while the size of the file is unknown.
type Progress struct {
	Transferred int64
	Expected    int64
}

type Option func(*Transfer)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(t *Transfer) {
		t.l = l
	}
}

// WithTrace makes the default observer log every packet.
func WithTrace(trace bool) Option {
	return func(t *Transfer) {
		t.trace = trace
	}
}

func WithObserver(o Observer) Option {
	return func(t *Transfer) {
		t.observer = o
	}
}

func WithClock(c Clock) Option {
	return func(t *Transfer) {
		t.clock = c
	}
}

type Transfer struct {
	mu sync.Mutex

	role     role
	ch       Channel
	filename string
	userCtx  any

	l        *zap.SugaredLogger
	observer Observer
	clock    Clock
	trace    bool

	mode       types.Mode
	retryCount int
	wrap       WrapAround
	proposed   options.Set
	negotiated *options.Set
	// size is the locally known file size, -1 when unknown
	size int64

	state       state
	wasStarted  bool
	timer       *retryTimer
	retriesLeft int
	lastSent    types.Command

	src    io.Reader
	dst    io.Writer
	stream io.Closer

	transferred int64
	progress    chan Progress
	done        chan struct{}
	err         error

	released   bool
	releaseErr error
}

func newTransfer(r role, ch Channel, filename string, mode types.Mode, proposed options.Set, opts []Option) *Transfer {
	t := &Transfer{
		role:       r,
		ch:         ch,
		filename:   filename,
		mode:       mode,
		proposed:   proposed,
		retryCount: DefaultRetryCount,
		wrap:       WrapToZero,
		size:       -1,
		clock:      systemClock{},
		progress:   make(chan Progress, progressBuffer),
		done:       make(chan struct{}),
	}

	for _, o := range opts {
		o(t)
	}

	if t.observer == nil {
		if t.l != nil {
			t.observer = NewLogObserver(t.l, t.trace)
		} else {
			t.observer = nopObserver{}
		}
	}

	if t.l == nil {
		t.l = zap.NewNop().Sugar()
	}

	t.timer = newRetryTimer(t.clock)
	t.state = r.initial()

	return t
}

func (t *Transfer) Filename() string {
	return t.filename
}

func (t *Transfer) Mode() types.Mode {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.mode
}

func (t *Transfer) UserContext() any {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.userCtx
}

// SetUserContext attaches an opaque value to the transfer. It can be changed at any time.
func (t *Transfer) SetUserContext(v any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.userCtx = v
}

func (t *Transfer) RetryCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.retryCount
}

func (t *Transfer) WrapAround() WrapAround {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.wrap
}

// BlockSize is the negotiated block size once negotiation finished, the proposed one before.
func (t *Transfer) BlockSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.blockSize()
}

// Timeout is the negotiated retransmission timeout once negotiation finished, the proposed one before.
func (t *Transfer) Timeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.timeout()
}

// ExpectedSize returns the size of the file if it is known.
func (t *Transfer) ExpectedSize() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.expectedSize()

	return n, n >= 0
}

func (t *Transfer) Proposed() options.Set {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.proposed
}

// Negotiated returns the agreed options; ok is false until negotiation finished.
func (t *Transfer) Negotiated() (set options.Set, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.negotiated == nil {
		return options.Set{}, false
	}

	return *t.negotiated, true
}

// State returns the name of the current state.
func (t *Transfer) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state.name()
}

func (t *Transfer) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.wasStarted
}

// Done is closed once the transfer reached Finished or Cancelled.
func (t *Transfer) Done() <-chan struct{} {
	return t.done
}

// Err returns nil while the transfer runs and after it finished, the terminal
// *Error after it was cancelled.
func (t *Transfer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.err
}

// Wait blocks until the transfer ends or ctx is done. It does not cancel the transfer.
func (t *Transfer) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Progress delivers progress reports. Only the most recent reports are kept
// when the consumer falls behind. The channel is closed when the transfer ends.
func (t *Transfer) Progress() <-chan Progress {
	return t.progress
}

func (t *Transfer) start(src io.Reader, dst io.Writer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.wasStarted {
		return fmt.Errorf("%w: transfer of %s already started", ErrInvalidOperation, t.filename)
	}

	if t.state.terminal() {
		return fmt.Errorf("%w: transfer of %s is closed", ErrInvalidOperation, t.filename)
	}

	if (t.role.sends && src == nil) || (!t.role.sends && dst == nil) {
		return fmt.Errorf("%w: transfer of %s needs a stream", ErrInvalidOperation, t.filename)
	}

	t.wasStarted = true
	t.src, t.dst = src, dst

	switch {
	case src != nil:
		t.stream, _ = src.(io.Closer)

		if t.size < 0 {
			if n, ok := streamSize(src); ok {
				t.size = n
			}
		}
	case dst != nil:
		t.stream, _ = dst.(io.Closer)
	}

	if err := t.ch.Open(t); err != nil {
		t.fail(channelError(err))

		return fmt.Errorf("error while opening channel: %w", err)
	}

	t.observer.Transition(t, "", t.state.name())
	t.state.enter(t)

	return nil
}

// Cancel aborts the transfer and, once it was started, sends reason to the
// peer. A nil reason sends a generic error. Cancelling a finished or cancelled transfer does nothing.
func (t *Transfer) Cancel(reason *types.Error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if reason == nil {
		reason = types.NewError(types.ErrNotDefined, "transfer cancelled")
	}

	t.state.onCancel(t, reason)
}

// Dispose stops the transfer if it is still running, closes the stream and the
// channel. It can be called any number of times.
func (t *Transfer) Dispose() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.timer.stop()

	if !t.state.terminal() {
		reason := types.NewError(types.ErrNotDefined, "transfer disposed")
		c := &cancelled{err: cancelledError(reason)}

		if t.wasStarted {
			c.packet = reason
		}

		t.transition(c)
	}

	return t.release()
}

// Tick checks the retry timer of the current state. It is meant to be called
// periodically, at least every 500ms.
func (t *Transfer) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.wasStarted || t.state.terminal() {
		return
	}

	t.state.onTimer(t)
}

func (t *Transfer) HandleCommand(cmd types.Command, from net.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.wasStarted || t.state.terminal() {
		return
	}

	t.observer.Received(t, cmd, from)

	if e, ok := cmd.(*types.Error); ok {
		t.fail(remoteError(e))

		return
	}

	t.state.onCommand(t, cmd)
}

func (t *Transfer) HandleError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.wasStarted || t.state.terminal() {
		return
	}

	if errors.Is(err, utils.ErrMalformedPacket) ||
		errors.Is(err, utils.ErrWrongOpCode) ||
		errors.Is(err, utils.ErrDataPayloadTooBig) {
		e := protocolError(types.ErrIllegalTftpOp, "malformed packet")
		e.Cause = err
		t.abort(e)

		return
	}

	t.fail(channelError(err))
}

func (t *Transfer) transition(next state) {
	prev := t.state
	t.state = next
	t.observer.Transition(t, prev.name(), next.name())
	next.enter(t)
}

// fail cancels the transfer without telling the peer.
func (t *Transfer) fail(e *Error) {
	if t.state.terminal() {
		return
	}

	t.transition(&cancelled{err: e})
}

// abort cancels the transfer and sends the matching ERROR to the peer.
func (t *Transfer) abort(e *Error) {
	if t.state.terminal() {
		return
	}

	t.transition(&cancelled{err: e, packet: e.Packet()})
}

func (t *Transfer) send(cmd types.Command) bool {
	t.observer.Sent(t, cmd)

	if err := t.ch.Send(cmd); err != nil {
		t.fail(channelError(err))

		return false
	}

	return true
}

// sendAndRepeat sends a new command, arms the retry timer for it and refills
// the retry budget.
func (t *Transfer) sendAndRepeat(cmd types.Command) bool {
	t.lastSent = cmd
	t.retriesLeft = t.retryCount
	t.timer.start(t.timeout())

	return t.send(cmd)
}

// retransmit resends the last command once its timeout passed, or gives up
// when the retry budget is spent.
func (t *Transfer) retransmit() {
	if t.lastSent == nil || !t.timer.elapsed() {
		return
	}

	if t.retriesLeft <= 0 {
		t.fail(timeoutError(t.retryCount))

		return
	}

	t.retriesLeft--
	t.timer.reset()
	t.send(t.lastSent)
}

func (t *Transfer) reportProgress(n int) {
	t.transferred += int64(n)
	p := Progress{Transferred: t.transferred, Expected: t.expectedSize()}

	select {
	case t.progress <- p:
		return
	default:
	}

	// drop the oldest report
	select {
	case <-t.progress:
	default:
	}

	select {
	case t.progress <- p:
	default:
	}
}

// complete is the common exit of both terminal states.
func (t *Transfer) complete(e *Error) {
	t.timer.stop()

	if e != nil {
		t.err = e
	}

	t.release()
	close(t.done)
	close(t.progress)
}

func (t *Transfer) release() error {
	if t.released {
		return t.releaseErr
	}

	t.released = true

	var err error

	if t.stream != nil {
		if errC := t.stream.Close(); errC != nil {
			err = multierr.Append(err, fmt.Errorf("error while closing stream: %w", errC))
		}
	}

	if errC := t.ch.Close(); errC != nil {
		err = multierr.Append(err, fmt.Errorf("error while closing channel: %w", errC))
	}

	if err != nil {
		t.l.Errorf("error while releasing transfer of %s: %s", t.filename, err.Error())
	}

	t.releaseErr = err

	return err
}

func (t *Transfer) blockSize() int {
	if t.negotiated != nil {
		return t.negotiated.BlockSize
	}

	return t.proposed.BlockSize
}

func (t *Transfer) timeout() time.Duration {
	if t.negotiated != nil {
		return t.negotiated.TimeoutDuration()
	}

	return t.proposed.TimeoutDuration()
}

func (t *Transfer) expectedSize() int64 {
	switch {
	case t.negotiated != nil && t.negotiated.IncludesTransferSize:
		return t.negotiated.TransferSize
	case t.size >= 0:
		return t.size
	case !t.role.local && !t.role.sends && t.proposed.IncludesTransferSize:
		return t.proposed.TransferSize
	default:
		return -1
	}
}

// finishNegotiation records the options acknowledged by the peer's OACK.
// Options the peer left out fall back to their RFC 1350 defaults.
func (t *Transfer) finishNegotiation(raw []types.Option) *Error {
	acked := options.Parse(raw)
	p := t.proposed

	switch {
	case acked.IncludesBlockSize && (!p.IncludesBlockSize || acked.BlockSize > p.BlockSize):
		return protocolError(types.ErrOptionNegotiation, "unexpected blksize %d in OACK", acked.BlockSize)
	case acked.IncludesTimeout && !p.IncludesTimeout:
		return protocolError(types.ErrOptionNegotiation, "timeout was not requested")
	case acked.IncludesTransferSize && !p.IncludesTransferSize:
		return protocolError(types.ErrOptionNegotiation, "tsize was not requested")
	}

	t.negotiated = &acked

	return nil
}

// acceptPeerOptions picks the subset of the peer's proposal this side agrees to.
func (t *Transfer) acceptPeerOptions() options.Set {
	acc := options.Empty()
	p := t.proposed

	if p.IncludesBlockSize {
		acc.BlockSize, acc.IncludesBlockSize = p.BlockSize, true
	}

	if p.IncludesTimeout {
		acc.Timeout, acc.IncludesTimeout = p.Timeout, true
	}

	if p.IncludesTransferSize {
		switch {
		case !t.role.sends:
			acc.TransferSize, acc.IncludesTransferSize = p.TransferSize, true
		case t.size >= 0:
			acc.TransferSize, acc.IncludesTransferSize = t.size, true
		}
	}

	return acc
}

func streamSize(r io.Reader) (int64, bool) {
	switch s := r.(type) {
	case interface{ Size() int64 }:
		return s.Size(), true
	case interface{ Len() int }:
		return int64(s.Len()), true
	case interface{ Stat() (os.FileInfo, error) }:
		fi, err := s.Stat()
		if err != nil || !fi.Mode().IsRegular() {
			return 0, false
		}

		return fi.Size(), true
	default:
		return 0, false
	}
}
