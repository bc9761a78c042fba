package types

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

type Error struct {
	ErrMsg    string
	ErrorCode ErrCode
}

func NewError(code ErrCode, format string, args ...any) *Error {
	return &Error{ErrorCode: code, ErrMsg: fmt.Sprintf(format, args...)}
}

func (e *Error) Code() OpCode {
	return OpCodeError
}

func (e *Error) String() string {
	return fmt.Sprintf("ERROR(%d, %s)", e.ErrorCode, e.ErrMsg)
}

func (e *Error) MarshalBinary() ([]byte, error) {
	b := new(bytes.Buffer)
	errLength := HeaderSize + len(e.ErrMsg) + 1
	b.Grow(errLength)

	if err := binary.Write(b, binary.BigEndian, OpCodeError); err != nil {
		return nil, fmt.Errorf("error while writing opcode: %w", err)
	}

	if err := binary.Write(b, binary.BigEndian, &e.ErrorCode); err != nil {
		return nil, fmt.Errorf("error while writing error code: %w", err)
	}

	if err := writeCString(b, e.ErrMsg); err != nil {
		return nil, fmt.Errorf("error while writing error message: %w", err)
	}

	return b.Bytes(), nil
}

func (e *Error) UnmarshalBinary(data []byte) error {
	var opcode OpCode
	var err error

	b := bytes.NewBuffer(data)

	if err = binary.Read(b, binary.BigEndian, &opcode); err != nil {
		return fmt.Errorf("%w: error while reading opcode: %w", utils.ErrMalformedPacket, err)
	}

	if opcode != OpCodeError {
		return utils.ErrWrongOpCode
	}

	if err = binary.Read(b, binary.BigEndian, &e.ErrorCode); err != nil {
		return fmt.Errorf("%w: error while reading error code: %w", utils.ErrMalformedPacket, err)
	}

	// some stacks omit the terminating null byte
	msg := b.Bytes()
	if i := bytes.IndexByte(msg, 0); i >= 0 {
		msg = msg[:i]
	}

	e.ErrMsg = string(msg)

	return nil
}
