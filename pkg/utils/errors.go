package utils

import "errors"

var (
	ErrStartingServer      = errors.New("error: starting the udp server")
	ErrWrongOpCode         = errors.New("error: invalid operation code")
	ErrDataPayloadTooBig   = errors.New("error: payload exceeds maximum block size")
	ErrMalformedPacket     = errors.New("error: malformed packet")
	ErrPacketMarshall      = errors.New("error: can not marshall packet")
	ErrPacketCanNotBeSent  = errors.New("error: packet can not be sent")
	ErrPathTraversal       = errors.New("error: path escapes the base directory")
	ErrUnsupportedMode     = errors.New("error: unsupported transfer mode")
	ErrNotConnected        = errors.New("error: not connected to any server")
	ErrChannelClosed       = errors.New("error: channel is closed")
	ErrUnknownLogLevel     = errors.New("error: unknown log level")
	ErrLocalFileExists     = errors.New("error: local file already exists")
	ErrInvalidCommandValue = errors.New("error: invalid command value")
)
