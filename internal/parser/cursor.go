package parser

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// cursor reads a frame body front to back. Every read is bounds checked and
// reports ErrTruncated instead of slicing past the end.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

func (c *cursor) take(n int, field string) ([]byte, error) {
	if n < 0 || n > c.remaining() {
		return nil, fmt.Errorf("%w: %s needs %d bytes at offset %d, %d left",
			ErrTruncated, field, n, c.off, c.remaining())
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *cursor) skip(n int, field string) error {
	_, err := c.take(n, field)
	return err
}

func (c *cursor) byte(field string) (byte, error) {
	b, err := c.take(1, field)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) peek(field string) (byte, error) {
	if c.remaining() < 1 {
		return 0, fmt.Errorf("%w: %s at offset %d", ErrTruncated, field, c.off)
	}
	return c.buf[c.off], nil
}

func (c *cursor) uint16(field string) (uint16, error) {
	b, err := c.take(2, field)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// rest consumes and returns everything left.
func (c *cursor) rest() []byte {
	b := c.buf[c.off:]
	c.off = len(c.buf)
	return b
}

// reversed returns a copy of b in reverse order. 802.15.4 puts multi-byte
// fields on the air least significant byte first.
func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

func reversedHex(b []byte) string {
	return hex.EncodeToString(reversed(b))
}
