package types

import (
	"encoding"
	"encoding/binary"
	"fmt"

	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

// Command is the structured form of one TFTP packet.
type Command interface {
	encoding.BinaryMarshaler
	fmt.Stringer
	Code() OpCode
}

type unmarshaler interface {
	Command
	encoding.BinaryUnmarshaler
}

// Parse decodes a datagram into one of *Request, *Data, *Ack, *Error or *OAck.
func Parse(datagram []byte) (Command, error) {
	if len(datagram) < 2 {
		return nil, fmt.Errorf("%w: datagram of %d bytes", utils.ErrMalformedPacket, len(datagram))
	}

	var cmd unmarshaler

	switch op := OpCode(binary.BigEndian.Uint16(datagram)); op {
	case OpCodeRRQ, OpCodeWRQ:
		cmd = &Request{}
	case OpCodeDATA:
		cmd = &Data{}
	case OpCodeACK:
		cmd = &Ack{}
	case OpCodeError:
		cmd = &Error{}
	case OpCodeOACK:
		cmd = &OAck{}
	default:
		return nil, fmt.Errorf("%w: %d", utils.ErrWrongOpCode, op)
	}

	if err := cmd.UnmarshalBinary(datagram); err != nil {
		return nil, fmt.Errorf("error while decoding %s: %w", cmd.Code(), err)
	}

	return cmd, nil
}
