package transfer

import "fmt"

// WrapAround decides which block number follows 65535.
type WrapAround uint8

const (
	WrapToZero WrapAround = iota
	WrapToOne
)

func (w WrapAround) String() string {
	switch w {
	case WrapToZero:
		return "zero"
	case WrapToOne:
		return "one"
	default:
		return fmt.Sprintf("WrapAround(%d)", uint8(w))
	}
}

func (w WrapAround) next(block uint16) uint16 {
	if block == 0xffff {
		if w == WrapToOne {
			return 1
		}

		return 0
	}

	return block + 1
}
