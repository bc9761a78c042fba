package types

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

type Request struct {
	Filename string
	Mode     Mode
	Options  []Option
	Opcode   OpCode
}

func (r *Request) Code() OpCode {
	return r.Opcode
}

func (r *Request) String() string {
	return fmt.Sprintf("%s(%s, %s, %v)", r.Opcode, r.Filename, r.Mode, r.Options)
}

func (r *Request) MarshalBinary() ([]byte, error) {
	if r.Opcode != OpCodeRRQ && r.Opcode != OpCodeWRQ {
		return nil, utils.ErrWrongOpCode
	}

	b := new(bytes.Buffer)
	rqLen := 2 + len(r.Filename) + 1 + len(r.Mode) + 1 + optionsLen(r.Options)

	b.Grow(rqLen)

	if err := binary.Write(b, binary.BigEndian, &r.Opcode); err != nil {
		return nil, fmt.Errorf("error while writing Opcode: %w", err)
	}

	if err := writeCString(b, r.Filename); err != nil {
		return nil, fmt.Errorf("error while writing filename: %w", err)
	}

	if err := writeCString(b, string(r.Mode)); err != nil {
		return nil, fmt.Errorf("error while writing mode: %w", err)
	}

	if err := writeOptions(b, r.Options); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func (r *Request) UnmarshalBinary(data []byte) error {
	var err error

	rd := bytes.NewBuffer(data)

	err = binary.Read(rd, binary.BigEndian, &r.Opcode)
	if err != nil {
		return fmt.Errorf("%w: error while decoding opCode: %w", utils.ErrMalformedPacket, err)
	}

	if r.Opcode != OpCodeRRQ && r.Opcode != OpCodeWRQ {
		return utils.ErrWrongOpCode
	}

	r.Filename, err = readCString(rd)
	if err != nil {
		return fmt.Errorf("error while decoding filename: %w", err)
	}

	mode, err := readCString(rd)
	if err != nil {
		return fmt.Errorf("error while decoding mode: %w", err)
	}

	r.Mode = Mode(mode)

	r.Options, err = readOptions(rd)
	if err != nil {
		return err
	}

	return nil
}
