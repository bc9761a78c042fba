package transfer

import (
	"errors"
	"fmt"

	"github.com/Wa4h1h/tftp-engine/pkg/types"
)

// Usage errors, returned synchronously by the call that caused them.
var (
	ErrInvalidOperation = errors.New("error: invalid operation")
	ErrNotSupported     = errors.New("error: not supported for this transfer role")
	ErrOutOfRange       = errors.New("error: value out of range")
)

// Kinds of *Error, matched with errors.Is.
var (
	ErrProtocol  = errors.New("protocol error")
	ErrTimeout   = errors.New("transfer timed out")
	ErrRemote    = errors.New("peer reported an error")
	ErrChannel   = errors.New("channel error")
	ErrStream    = errors.New("stream error")
	ErrCancelled = errors.New("transfer cancelled")
)

// Error is the terminal failure of a transfer. Code and Message mirror the
// TFTP ERROR packet that was sent or received, when there was one.
type Error struct {
	Kind    error
	Code    types.ErrCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s (code %d)", e.Kind, e.Message, e.Code)
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}

	return s
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Cause}
}

// Packet returns the ERROR command describing e.
func (e *Error) Packet() *types.Error {
	return &types.Error{ErrorCode: e.Code, ErrMsg: e.Message}
}

func protocolError(code types.ErrCode, format string, args ...any) *Error {
	return &Error{Kind: ErrProtocol, Code: code, Message: fmt.Sprintf(format, args...)}
}

func timeoutError(retries int) *Error {
	return &Error{Kind: ErrTimeout, Code: types.ErrNotDefined, Message: fmt.Sprintf("no response after %d retries", retries)}
}

func remoteError(p *types.Error) *Error {
	return &Error{Kind: ErrRemote, Code: p.ErrorCode, Message: p.ErrMsg}
}

func channelError(err error) *Error {
	return &Error{Kind: ErrChannel, Code: types.ErrNotDefined, Message: "transport failure", Cause: err}
}

func streamError(code types.ErrCode, msg string, err error) *Error {
	return &Error{Kind: ErrStream, Code: code, Message: msg, Cause: err}
}

func cancelledError(p *types.Error) *Error {
	return &Error{Kind: ErrCancelled, Code: p.ErrorCode, Message: p.ErrMsg}
}
