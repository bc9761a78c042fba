package transfer

import (
	"net"

	"github.com/Wa4h1h/tftp-engine/pkg/types"
	"go.uber.org/zap"
)

// Observer is called by the engine around every state transition and every
// command sent or received, while the transfer lock is held. Implementations
// must not call back into the transfer.
type Observer interface {
	Transition(t *Transfer, from, to string)
	Sent(t *Transfer, cmd types.Command)
	Received(t *Transfer, cmd types.Command, from net.Addr)
}

// nopObserver is used when the transfer has no logger.
type nopObserver struct{}

func (nopObserver) Transition(*Transfer, string, string) {}
func (nopObserver) Sent(*Transfer, types.Command) {}
func (nopObserver) Received(*Transfer, types.Command, net.Addr) {}

// LogObserver logs transitions at debug level. Individual packets are only
// logged when trace is on.
type LogObserver struct {
	l     *zap.SugaredLogger
	trace bool
}

func NewLogObserver(l *zap.SugaredLogger, trace bool) *LogObserver {
	return &LogObserver{l: l, trace: trace}
}

func (o *LogObserver) Transition(t *Transfer, from, to string) {
	o.l.Debugw("transfer state changed",
		"file", t.filename,
		"from", from,
		"to", to,
		"transferred", t.transferred)
}

func (o *LogObserver) Sent(t *Transfer, cmd types.Command) {
	if o.trace {
		o.l.Debugf("%s sent --> %s", t.filename, cmd)
	}
}

func (o *LogObserver) Received(t *Transfer, cmd types.Command, from net.Addr) {
	if o.trace {
		o.l.Debugf("%s received <-- %s from %s", t.filename, cmd, from)
	}
}
