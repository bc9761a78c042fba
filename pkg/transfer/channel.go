package transfer

import (
	"net"

	"github.com/Wa4h1h/tftp-engine/pkg/types"
)

// Handler receives what a Channel reads from the network. Calls may come from
// the channel's own goroutine.
type Handler interface {
	HandleCommand(cmd types.Command, from net.Addr)
	HandleError(err error)
}

// Channel is the datagram transport bound to one peer. Send must be usable
// before Open; Open only starts delivering inbound commands to h.
type Channel interface {
	Open(h Handler) error
	Send(cmd types.Command) error
	Close() error
}
