package server

import (
	"fmt"
	"net"
	"syscall"

	"github.com/Wa4h1h/tftp-engine/pkg/types"
	"golang.org/x/sys/unix"
)

func notDefinedError(msg string) *types.Error {
	return types.NewError(types.ErrNotDefined, msg)
}

// sendErrorPacket answers addr from the listening socket, for requests that never got a transfer.
func sendErrorPacket(conn net.PacketConn, addr net.Addr, errorPacket *types.Error) error {
	b, err := errorPacket.MarshalBinary()
	if err != nil {
		return fmt.Errorf("error while marshal error packet: %w", err)
	}

	if _, err := conn.WriteTo(b, addr); err != nil {
		return fmt.Errorf("error while writing error packet: %w", err)
	}

	return nil
}

type control func(network, address string, c syscall.RawConn) error

func controlReusePort() control {
	return func(network, address string, c syscall.RawConn) error {
		var opErr error

		err := c.Control(func(fd uintptr) {
			opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		})
		if err != nil {
			return err
		}

		return opErr
	}
}
