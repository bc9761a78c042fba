package types

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

// Option is a single name/value pair of an RRQ, WRQ or OACK as it appears on the wire.
type Option struct {
	Name  string
	Value string
}

func (o Option) String() string {
	return fmt.Sprintf("%s=%s", o.Name, o.Value)
}

func writeCString(b *bytes.Buffer, s string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("%w: %q contains a null byte", utils.ErrMalformedPacket, s)
	}

	if _, err := b.WriteString(s); err != nil {
		return err
	}

	return b.WriteByte(0)
}

func readCString(b *bytes.Buffer) (string, error) {
	s, err := b.ReadString(0)
	if err != nil {
		return "", fmt.Errorf("%w: missing null terminator", utils.ErrMalformedPacket)
	}

	return strings.TrimRight(s, string(byte(0))), nil
}

func writeOptions(b *bytes.Buffer, opts []Option) error {
	for _, o := range opts {
		if err := writeCString(b, o.Name); err != nil {
			return fmt.Errorf("error while writing option name: %w", err)
		}

		if err := writeCString(b, o.Value); err != nil {
			return fmt.Errorf("error while writing option value: %w", err)
		}
	}

	return nil
}

func readOptions(b *bytes.Buffer) ([]Option, error) {
	var opts []Option

	for b.Len() > 0 {
		name, err := readCString(b)
		if err != nil {
			return nil, fmt.Errorf("error while reading option name: %w", err)
		}

		value, err := readCString(b)
		if err != nil {
			return nil, fmt.Errorf("error while reading value of option %s: %w", name, err)
		}

		opts = append(opts, Option{Name: name, Value: value})
	}

	return opts, nil
}

func optionsLen(opts []Option) int {
	n := 0
	for _, o := range opts {
		n += len(o.Name) + 1 + len(o.Value) + 1
	}

	return n
}
