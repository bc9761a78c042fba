// Package channel carries TFTP commands over UDP for a single transfer.
package channel

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/Wa4h1h/tftp-engine/pkg/transfer"
	"github.com/Wa4h1h/tftp-engine/pkg/types"
	"github.com/Wa4h1h/tftp-engine/pkg/utils"
	"go.uber.org/zap"
)

// UDP is a transfer.Channel bound to one remote transfer identifier (TID).
// A client side channel starts out talking to the server's well known port
// and locks onto the port of the first reply.
type UDP struct {
	conn net.PacketConn
	l    *zap.SugaredLogger

	mu     sync.Mutex
	remote *net.UDPAddr
	locked bool
	opened bool

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

var _ transfer.Channel = (*UDP)(nil)

// Dial opens a channel on an ephemeral port for a transfer requested from
// the server at addr.
func Dial(network, addr string, l *zap.SugaredLogger) (*UDP, error) {
	raddr, err := net.ResolveUDPAddr(network, addr)
	if err != nil {
		return nil, fmt.Errorf("error while resolving %s: %w", addr, err)
	}

	conn, err := net.ListenPacket(network, ":0")
	if err != nil {
		return nil, fmt.Errorf("error while opening socket: %w", err)
	}

	return newUDP(conn, raddr, false, l), nil
}

// Connect opens a channel on a new ephemeral port for a transfer with peer,
// which already is the peer's TID.
func Connect(peer net.Addr, l *zap.SugaredLogger) (*UDP, error) {
	raddr, err := net.ResolveUDPAddr(peer.Network(), peer.String())
	if err != nil {
		return nil, fmt.Errorf("error while resolving %s: %w", peer, err)
	}

	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("error while opening socket: %w", err)
	}

	return newUDP(conn, raddr, true, l), nil
}

func newUDP(conn net.PacketConn, remote *net.UDPAddr, locked bool, l *zap.SugaredLogger) *UDP {
	if l == nil {
		l = zap.NewNop().Sugar()
	}

	return &UDP{
		conn:   conn,
		l:      l,
		remote: remote,
		locked: locked,
		closed: make(chan struct{}),
	}
}

func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// RemoteAddr returns the address commands are sent to.
func (u *UDP) RemoteAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.remote
}

func (u *UDP) Open(h transfer.Handler) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	select {
	case <-u.closed:
		return utils.ErrChannelClosed
	default:
	}

	if u.opened {
		return fmt.Errorf("%w: channel already open", transfer.ErrInvalidOperation)
	}

	u.opened = true

	go u.readLoop(h)

	return nil
}

func (u *UDP) Send(cmd types.Command) error {
	b, err := cmd.MarshalBinary()
	if err != nil {
		return fmt.Errorf("%w: %w", utils.ErrPacketMarshall, err)
	}

	u.mu.Lock()
	remote := u.remote
	u.mu.Unlock()

	if _, err := u.conn.WriteTo(b, remote); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return utils.ErrChannelClosed
		}

		return fmt.Errorf("%w: %w", utils.ErrPacketCanNotBeSent, err)
	}

	return nil
}

// Close closes the socket. It does not wait for the read loop, which may be
// the caller.
func (u *UDP) Close() error {
	u.closeOnce.Do(func() {
		close(u.closed)

		if err := u.conn.Close(); err != nil {
			u.closeErr = fmt.Errorf("error while closing connection: %w", err)
		}
	})

	return u.closeErr
}

func (u *UDP) readLoop(h transfer.Handler) {
	datagram := make([]byte, types.MaxDatagramSize)

	for {
		n, addr, err := u.conn.ReadFrom(datagram)
		if err != nil {
			select {
			case <-u.closed:
			default:
				h.HandleError(fmt.Errorf("error while reading datagram: %w", err))
			}

			return
		}

		from, ok := addr.(*net.UDPAddr)
		if !ok || !u.accept(from) {
			u.rejectForeign(addr)

			continue
		}

		cmd, err := types.Parse(datagram[:n])
		if err != nil {
			h.HandleError(err)

			continue
		}

		h.HandleCommand(cmd, from)
	}
}

// accept reports whether from is the transfer's peer, locking the TID on the
// first reply when needed.
func (u *UDP) accept(from *net.UDPAddr) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.locked {
		return from.Port == u.remote.Port && from.IP.Equal(u.remote.IP)
	}

	if !u.remote.IP.IsUnspecified() && !from.IP.Equal(u.remote.IP) {
		return false
	}

	u.remote, u.locked = from, true

	return true
}

func (u *UDP) rejectForeign(addr net.Addr) {
	u.l.Debugf("dropping datagram from unknown transfer id %s", addr)

	b, err := types.NewError(types.ErrUnknownTransferId, "unknown transfer id").MarshalBinary()
	if err != nil {
		return
	}

	if _, err := u.conn.WriteTo(b, addr); err != nil {
		u.l.Debugf("error while rejecting %s: %s", addr, err.Error())
	}
}
