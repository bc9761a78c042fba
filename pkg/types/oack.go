package types

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

// OAck acknowledges the subset of requested options the server accepted (RFC 2347).
type OAck struct {
	Options []Option
}

func (o *OAck) Code() OpCode {
	return OpCodeOACK
}

func (o *OAck) String() string {
	return fmt.Sprintf("OACK(%v)", o.Options)
}

func (o *OAck) MarshalBinary() ([]byte, error) {
	b := new(bytes.Buffer)
	b.Grow(2 + optionsLen(o.Options))

	if err := binary.Write(b, binary.BigEndian, OpCodeOACK); err != nil {
		return nil, fmt.Errorf("error while writing opcode: %w", err)
	}

	if err := writeOptions(b, o.Options); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func (o *OAck) UnmarshalBinary(data []byte) error {
	var opcode OpCode

	b := bytes.NewBuffer(data)

	if err := binary.Read(b, binary.BigEndian, &opcode); err != nil {
		return fmt.Errorf("%w: error while reading opcode: %w", utils.ErrMalformedPacket, err)
	}

	if opcode != OpCodeOACK {
		return utils.ErrWrongOpCode
	}

	opts, err := readOptions(b)
	if err != nil {
		return err
	}

	o.Options = opts

	return nil
}
