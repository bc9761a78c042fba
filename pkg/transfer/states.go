package transfer

import (
	"errors"
	"io"

	"github.com/Wa4h1h/tftp-engine/pkg/options"
	"github.com/Wa4h1h/tftp-engine/pkg/types"
)

// state is one step of the transfer. All methods run with the transfer lock held.
// ERROR commands from the peer are handled by the engine before onCommand.
type state interface {
	name() string
	terminal() bool
	enter(t *Transfer)
	onCommand(t *Transfer, cmd types.Command)
	onTimer(t *Transfer)
	onCancel(t *Transfer, reason *types.Error)
}

// active provides the behaviour shared by all non-terminal states.
type active struct{}

func (active) terminal() bool { return false }

func (active) onTimer(t *Transfer) {
	t.retransmit()
}

// onCancel only tells the peer when a request or reply already went out.
func (active) onCancel(t *Transfer, reason *types.Error) {
	c := &cancelled{err: cancelledError(reason)}
	if t.wasStarted {
		c.packet = reason
	}

	t.transition(c)
}

func unexpected(t *Transfer, cmd types.Command, in string) {
	t.abort(protocolError(types.ErrIllegalTftpOp, "unexpected %s while %s", cmd.Code(), in))
}

// startOutgoingRead sends the RRQ and waits for OACK or the first DATA block.
type startOutgoingRead struct{ active }

func (*startOutgoingRead) name() string { return "StartOutgoingRead" }

func (*startOutgoingRead) enter(t *Transfer) {
	t.sendAndRepeat(&types.Request{
		Opcode:   types.OpCodeRRQ,
		Filename: t.filename,
		Mode:     t.mode,
		Options:  t.proposed.OptionList(),
	})
}

func (*startOutgoingRead) onCommand(t *Transfer, cmd types.Command) {
	switch c := cmd.(type) {
	case *types.OAck:
		if err := t.finishNegotiation(c.Options); err != nil {
			t.abort(err)

			return
		}

		if !t.sendAndRepeat(&types.Ack{BlockNum: 0}) {
			return
		}

		t.transition(newReceiving())
	case *types.Data:
		// the peer ignored the options
		empty := options.Empty()
		t.negotiated = &empty

		t.transition(newReceiving())
		t.state.onCommand(t, c)
	default:
		unexpected(t, cmd, "waiting for the RRQ response")
	}
}

// startOutgoingWrite sends the WRQ and waits for ACK(0) or OACK.
type startOutgoingWrite struct{ active }

func (*startOutgoingWrite) name() string { return "StartOutgoingWrite" }

func (*startOutgoingWrite) enter(t *Transfer) {
	if t.size >= 0 {
		t.proposed.TransferSize, t.proposed.IncludesTransferSize = t.size, true
	} else {
		t.proposed.IncludesTransferSize = false
	}

	t.sendAndRepeat(&types.Request{
		Opcode:   types.OpCodeWRQ,
		Filename: t.filename,
		Mode:     t.mode,
		Options:  t.proposed.OptionList(),
	})
}

func (*startOutgoingWrite) onCommand(t *Transfer, cmd types.Command) {
	switch c := cmd.(type) {
	case *types.Ack:
		if c.BlockNum != 0 {
			return
		}

		empty := options.Empty()
		t.negotiated = &empty

		t.transition(newSending())
	case *types.OAck:
		if err := t.finishNegotiation(c.Options); err != nil {
			t.abort(err)

			return
		}

		t.transition(newSending())
	default:
		unexpected(t, cmd, "waiting for the WRQ response")
	}
}

// startIncomingRead answers a peer's RRQ: OACK first when options were
// accepted, DATA(1) straight away otherwise.
type startIncomingRead struct{ active }

func (*startIncomingRead) name() string { return "StartIncomingRead" }

func (*startIncomingRead) enter(t *Transfer) {
	acc := t.acceptPeerOptions()
	t.negotiated = &acc

	if !acc.Any() {
		t.transition(newSending())

		return
	}

	t.sendAndRepeat(&types.OAck{Options: acc.OptionList()})
}

func (*startIncomingRead) onCommand(t *Transfer, cmd types.Command) {
	switch c := cmd.(type) {
	case *types.Ack:
		if c.BlockNum == 0 {
			t.transition(newSending())
		}
	default:
		unexpected(t, cmd, "waiting for the OACK acknowledgement")
	}
}

// startIncomingWrite answers a peer's WRQ with OACK or ACK(0) and moves on to Receiving.
type startIncomingWrite struct{ active }

func (*startIncomingWrite) name() string { return "StartIncomingWrite" }

func (*startIncomingWrite) enter(t *Transfer) {
	acc := t.acceptPeerOptions()
	t.negotiated = &acc

	var reply types.Command = &types.Ack{BlockNum: 0}
	if acc.Any() {
		reply = &types.OAck{Options: acc.OptionList()}
	}

	if !t.sendAndRepeat(reply) {
		return
	}

	t.transition(newReceiving())
}

func (*startIncomingWrite) onCommand(t *Transfer, cmd types.Command) {
	unexpected(t, cmd, "answering the WRQ")
}

// sending reads the stream block by block and waits for each block's ACK.
type sending struct {
	active
	block   uint16
	payload int
	last    bool
}

func newSending() *sending {
	return &sending{block: 1}
}

func (*sending) name() string { return "Sending" }

func (s *sending) enter(t *Transfer) {
	s.sendBlock(t)
}

func (s *sending) sendBlock(t *Transfer) {
	size := t.blockSize()
	buf := make([]byte, size)

	n, err := io.ReadFull(t.src, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		t.abort(streamError(types.ErrNotDefined, "error while reading file", err))

		return
	}

	s.payload, s.last = n, n < size

	t.sendAndRepeat(&types.Data{BlockNum: s.block, Payload: buf[:n]})
}

func (s *sending) onCommand(t *Transfer, cmd types.Command) {
	switch c := cmd.(type) {
	case *types.Ack:
		// only the block in flight counts, anything else is a stale duplicate
		if c.BlockNum != s.block {
			return
		}

		t.reportProgress(s.payload)

		if s.last {
			t.transition(&finished{})

			return
		}

		s.block = t.wrap.next(s.block)
		s.sendBlock(t)
	case *types.OAck:
		// retransmitted negotiation reply, our DATA is already on its way
	default:
		unexpected(t, cmd, "sending")
	}
}

// receiving writes each expected DATA block to the stream and acknowledges it.
type receiving struct {
	active
	expected uint16
	previous uint16
	written  bool
}

func newReceiving() *receiving {
	return &receiving{expected: 1}
}

func (*receiving) name() string { return "Receiving" }

func (*receiving) enter(*Transfer) {}

func (s *receiving) onCommand(t *Transfer, cmd types.Command) {
	switch c := cmd.(type) {
	case *types.Data:
		s.onData(t, c)
	case *types.OAck:
		// the peer missed our ACK(0)
		if t.role.local && s.expected == 1 {
			t.send(t.lastSent)
		}
	default:
		unexpected(t, cmd, "receiving")
	}
}

func (s *receiving) onData(t *Transfer, d *types.Data) {
	switch {
	case d.BlockNum == s.expected:
		if len(d.Payload) > t.blockSize() {
			t.abort(protocolError(types.ErrIllegalTftpOp, "block #%d carries %d bytes, block size is %d",
				d.BlockNum, len(d.Payload), t.blockSize()))

			return
		}

		if _, err := t.dst.Write(d.Payload); err != nil {
			t.abort(streamError(types.ErrNotDefined, "error while writing file", err))

			return
		}

		if !t.sendAndRepeat(&types.Ack{BlockNum: d.BlockNum}) {
			return
		}

		t.reportProgress(len(d.Payload))
		s.previous, s.expected, s.written = s.expected, t.wrap.next(s.expected), true

		if len(d.Payload) < t.blockSize() {
			t.transition(&finished{})
		}
	case s.written && d.BlockNum == s.previous:
		// our ACK got lost, repeat it without writing the block again
		t.send(t.lastSent)
	default:
		t.abort(protocolError(types.ErrIllegalTftpOp, "unexpected block #%d, expected #%d", d.BlockNum, s.expected))
	}
}

type terminalState struct{}

func (terminalState) terminal() bool { return true }

func (terminalState) onCommand(*Transfer, types.Command) {}

func (terminalState) onTimer(*Transfer) {}

func (terminalState) onCancel(*Transfer, *types.Error) {}

type finished struct{ terminalState }

func (*finished) name() string { return "Finished" }

func (*finished) enter(t *Transfer) {
	t.complete(nil)
}

// cancelled ends the transfer with err. packet, when set, is sent to the peer
// once and never retransmitted.
type cancelled struct {
	terminalState
	err    *Error
	packet *types.Error
}

func (*cancelled) name() string { return "Cancelled" }

func (s *cancelled) enter(t *Transfer) {
	t.timer.stop()

	if s.packet != nil {
		t.observer.Sent(t, s.packet)

		if err := t.ch.Send(s.packet); err != nil {
			t.l.Debugf("error while sending error packet for %s: %s", t.filename, err.Error())
		}
	}

	t.complete(s.err)
}
