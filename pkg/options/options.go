// Package options implements the TFTP option extension set (RFC 2347, 2348, 2349):
// block size, retransmission timeout and transfer size, each either proposed or
// negotiated and each independently included or absent.
package options

import (
	"strconv"
	"strings"
	"time"

	"github.com/Wa4h1h/tftp-engine/pkg/types"
)

const (
	BlockSizeName    = "blksize"
	TimeoutName      = "timeout"
	TransferSizeName = "tsize"
)

const (
	MinBlockSize     = 8
	MaxBlockSize     = types.MaxBlockSize
	DefaultBlockSize = types.DefaultBlockSize

	MinTimeout     = 1
	MaxTimeout     = 255
	DefaultTimeout = 5
)

// Set holds the three extension options. A value is only meaningful on the wire
// when its Includes flag is set; otherwise it carries the RFC 1350 default.
type Set struct {
	BlockSize         int
	IncludesBlockSize bool

	// Timeout is expressed in whole seconds.
	Timeout         int
	IncludesTimeout bool

	TransferSize         int64
	IncludesTransferSize bool
}

// Empty returns a set that includes nothing.
func Empty() Set {
	return Set{
		BlockSize: DefaultBlockSize,
		Timeout:   DefaultTimeout,
	}
}

// DefaultProposed returns the set a transfer proposes unless told otherwise:
// every option included at its default.
func DefaultProposed() Set {
	s := Empty()
	s.IncludesBlockSize = true
	s.IncludesTimeout = true
	s.IncludesTransferSize = true

	return s
}

// Parse builds a set from options as received on the wire. Unknown names and
// invalid values are skipped.
func Parse(opts []types.Option) Set {
	s := Empty()

	for _, o := range opts {
		switch strings.ToLower(o.Name) {
		case BlockSizeName:
			if v, ok := parseInRange(o.Value, MinBlockSize, MaxBlockSize); ok {
				s.BlockSize, s.IncludesBlockSize = int(v), true
			}
		case TimeoutName:
			if v, ok := parseInRange(o.Value, MinTimeout, MaxTimeout); ok {
				s.Timeout, s.IncludesTimeout = int(v), true
			}
		case TransferSizeName:
			if v, ok := parseInRange(o.Value, 0, -1); ok {
				s.TransferSize, s.IncludesTransferSize = v, true
			}
		}
	}

	return s
}

// parseInRange parses a decimal value in [lo, hi]; hi < 0 means unbounded.
func parseInRange(value string, lo, hi int64) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || v < lo || (hi >= 0 && v > hi) {
		return 0, false
	}

	return v, true
}

// OptionList encodes the included options in blksize, timeout, tsize order.
func (s Set) OptionList() []types.Option {
	var opts []types.Option

	if s.IncludesBlockSize {
		opts = append(opts, types.Option{Name: BlockSizeName, Value: strconv.Itoa(s.BlockSize)})
	}

	if s.IncludesTimeout {
		opts = append(opts, types.Option{Name: TimeoutName, Value: strconv.Itoa(s.Timeout)})
	}

	if s.IncludesTransferSize {
		opts = append(opts, types.Option{Name: TransferSizeName, Value: strconv.FormatInt(s.TransferSize, 10)})
	}

	return opts
}

// Any reports whether at least one option is included.
func (s Set) Any() bool {
	return s.IncludesBlockSize || s.IncludesTimeout || s.IncludesTransferSize
}

func (s Set) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

func ValidBlockSize(n int) bool {
	return n >= MinBlockSize && n <= MaxBlockSize
}

func ValidTimeout(seconds int) bool {
	return seconds >= MinTimeout && seconds <= MaxTimeout
}
