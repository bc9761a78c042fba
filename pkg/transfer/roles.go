package transfer

import (
	"fmt"
	"io"
	"time"

	"github.com/Wa4h1h/tftp-engine/pkg/options"
	"github.com/Wa4h1h/tftp-engine/pkg/types"
)

// role selects the initial state and decides which parameters belong to this
// side. Remote roles take mode, block size and timeout from the peer's request.
type role struct {
	name    string
	sends   bool
	local   bool
	initial func() state
}

var (
	localRead = role{
		name:    "local read",
		local:   true,
		initial: func() state { return &startOutgoingRead{} },
	}
	localWrite = role{
		name:    "local write",
		sends:   true,
		local:   true,
		initial: func() state { return &startOutgoingWrite{} },
	}
	remoteRead = role{
		name:    "remote read",
		sends:   true,
		initial: func() state { return &startIncomingRead{} },
	}
	remoteWrite = role{
		name:    "remote write",
		initial: func() state { return &startIncomingWrite{} },
	}
)

// configure applies a setting before Start. peerControlled settings are
// rejected on remote roles.
func (t *Transfer) configure(peerControlled bool, apply func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if peerControlled && !t.role.local {
		return fmt.Errorf("%w: %s", ErrNotSupported, t.role.name)
	}

	if t.wasStarted {
		return fmt.Errorf("%w: transfer of %s already started", ErrInvalidOperation, t.filename)
	}

	return apply()
}

func (t *Transfer) setMode(m types.Mode) error {
	return t.configure(true, func() error {
		if m != types.ModeOctet && m != types.ModeNetASCII {
			return fmt.Errorf("%w: mode %q", ErrOutOfRange, m)
		}

		t.mode = m

		return nil
	})
}

func (t *Transfer) setBlockSize(n int) error {
	return t.configure(true, func() error {
		if !options.ValidBlockSize(n) {
			return fmt.Errorf("%w: block size %d", ErrOutOfRange, n)
		}

		t.proposed.BlockSize, t.proposed.IncludesBlockSize = n, true

		return nil
	})
}

func (t *Transfer) setTimeout(d time.Duration) error {
	return t.configure(true, func() error {
		seconds := int(d / time.Second)
		if d%time.Second != 0 || !options.ValidTimeout(seconds) {
			return fmt.Errorf("%w: timeout %s", ErrOutOfRange, d)
		}

		t.proposed.Timeout, t.proposed.IncludesTimeout = seconds, true

		return nil
	})
}

func (t *Transfer) setExpectedSize(n int64) error {
	return t.configure(!t.role.local && !t.role.sends, func() error {
		if n < 0 {
			return fmt.Errorf("%w: size %d", ErrOutOfRange, n)
		}

		t.size = n

		if t.role.local && t.role.sends {
			t.proposed.TransferSize, t.proposed.IncludesTransferSize = n, true
		}

		return nil
	})
}

func (t *Transfer) setRetryCount(n int) error {
	return t.configure(false, func() error {
		if n < 0 {
			return fmt.Errorf("%w: retry count %d", ErrOutOfRange, n)
		}

		t.retryCount = n

		return nil
	})
}

func (t *Transfer) setWrapAround(w WrapAround) error {
	return t.configure(false, func() error {
		if w != WrapToZero && w != WrapToOne {
			return fmt.Errorf("%w: %s", ErrOutOfRange, w)
		}

		t.wrap = w

		return nil
	})
}

// commonSettings are available on every role until Start.
type commonSettings struct{ t *Transfer }

func (c commonSettings) SetRetryCount(n int) error { return c.t.setRetryCount(n) }

func (c commonSettings) SetWrapAround(w WrapAround) error { return c.t.setWrapAround(w) }

type sizeSettings struct{ t *Transfer }

func (c sizeSettings) SetExpectedSize(n int64) error { return c.t.setExpectedSize(n) }

// requestSettings are the parameters carried by the request, so only the
// side sending the request may choose them.
type requestSettings struct{ t *Transfer }

func (c requestSettings) SetMode(m types.Mode) error { return c.t.setMode(m) }

func (c requestSettings) SetBlockSize(n int) error { return c.t.setBlockSize(n) }

// SetTimeout sets the proposed retransmission timeout, in whole seconds between 1s and 255s.
func (c requestSettings) SetTimeout(d time.Duration) error { return c.t.setTimeout(d) }

// LocalRead requests a file from the peer and writes it to the stream given to Start.
type LocalRead struct {
	*Transfer
	commonSettings
	sizeSettings
	requestSettings
}

func NewLocalRead(ch Channel, filename string, opts ...Option) *LocalRead {
	t := newTransfer(localRead, ch, filename, types.ModeOctet, options.DefaultProposed(), opts)

	return &LocalRead{Transfer: t, commonSettings: commonSettings{t}, sizeSettings: sizeSettings{t}, requestSettings: requestSettings{t}}
}

func (r *LocalRead) Start(w io.Writer) error {
	return r.start(nil, w)
}

// LocalWrite sends the stream given to Start to the peer under filename.
type LocalWrite struct {
	*Transfer
	commonSettings
	sizeSettings
	requestSettings
}

func NewLocalWrite(ch Channel, filename string, opts ...Option) *LocalWrite {
	t := newTransfer(localWrite, ch, filename, types.ModeOctet, options.DefaultProposed(), opts)

	return &LocalWrite{Transfer: t, commonSettings: commonSettings{t}, sizeSettings: sizeSettings{t}, requestSettings: requestSettings{t}}
}

func (w *LocalWrite) Start(r io.Reader) error {
	return w.start(r, nil)
}

// RemoteRead serves a peer's RRQ from the stream given to Start. peer holds
// the options parsed from the request.
type RemoteRead struct {
	*Transfer
	commonSettings
	sizeSettings
}

func NewRemoteRead(ch Channel, filename string, mode types.Mode, peer options.Set, opts ...Option) *RemoteRead {
	t := newTransfer(remoteRead, ch, filename, mode, peer, opts)

	return &RemoteRead{Transfer: t, commonSettings: commonSettings{t}, sizeSettings: sizeSettings{t}}
}

func (r *RemoteRead) Start(src io.Reader) error {
	return r.start(src, nil)
}

// RemoteWrite accepts a peer's WRQ and writes the received file to the stream
// given to Start. The expected size, if any, is the tsize of the request.
type RemoteWrite struct {
	*Transfer
	commonSettings
}

func NewRemoteWrite(ch Channel, filename string, mode types.Mode, peer options.Set, opts ...Option) *RemoteWrite {
	t := newTransfer(remoteWrite, ch, filename, mode, peer, opts)

	return &RemoteWrite{Transfer: t, commonSettings: commonSettings{t}}
}

func (w *RemoteWrite) Start(dst io.Writer) error {
	return w.start(nil, dst)
}
