package types

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

type Ack struct {
	BlockNum uint16
}

func (a *Ack) Code() OpCode {
	return OpCodeACK
}

func (a *Ack) String() string {
	return fmt.Sprintf("ACK(%d)", a.BlockNum)
}

func (a *Ack) MarshalBinary() ([]byte, error) {
	b := new(bytes.Buffer)
	b.Grow(HeaderSize)

	if err := binary.Write(b, binary.BigEndian, OpCodeACK); err != nil {
		return nil, fmt.Errorf("error while writing opcode: %w", err)
	}

	if err := binary.Write(b, binary.BigEndian, &a.BlockNum); err != nil {
		return nil, fmt.Errorf("error while writing block#: %w", err)
	}

	return b.Bytes(), nil
}

func (a *Ack) UnmarshalBinary(data []byte) error {
	var opcode OpCode

	b := bytes.NewBuffer(data)

	if err := binary.Read(b, binary.BigEndian, &opcode); err != nil {
		return fmt.Errorf("%w: error while reading opcode: %w", utils.ErrMalformedPacket, err)
	}

	if opcode != OpCodeACK {
		return utils.ErrWrongOpCode
	}

	if err := binary.Read(b, binary.BigEndian, &a.BlockNum); err != nil {
		return fmt.Errorf("%w: error while reading block#: %w", utils.ErrMalformedPacket, err)
	}

	return nil
}
