// Package checksum implements the RFC 1071 Internet checksum used by ICMPv6.
package checksum

import "encoding/binary"

// Checksum16 returns the one's-complement checksum of buf.
// An odd trailing byte is treated as the high byte of a final word.
func Checksum16(buf []byte) uint16 {
	var a Accumulator
	a.Write(buf)
	return a.Sum16()
}

// Accumulator sums 16-bit big-endian words incrementally so a pseudo-header
// and a message can be fed without building one buffer. Writes of odd length
// carry their last byte over to the next write.
type Accumulator struct {
	sum     uint32
	pending byte
	odd     bool
}

// Write adds buf to the running sum. It never fails.
func (a *Accumulator) Write(buf []byte) (int, error) {
	n := len(buf)
	if a.odd && len(buf) > 0 {
		a.add(uint16(a.pending)<<8 | uint16(buf[0]))
		a.odd = false
		buf = buf[1:]
	}
	for len(buf) > 1 {
		a.add(binary.BigEndian.Uint16(buf[:2]))
		buf = buf[2:]
	}
	if len(buf) == 1 {
		a.pending = buf[0]
		a.odd = true
	}
	return n, nil
}

// AddUint16 adds v as one big-endian word.
func (a *Accumulator) AddUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	a.Write(b[:])
}

// AddUint32 adds v as two big-endian words.
func (a *Accumulator) AddUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	a.Write(b[:])
}

// Sum16 returns the complement of the folded sum. The accumulator is not reset.
func (a *Accumulator) Sum16() uint16 {
	sum := a.sum
	if a.odd {
		sum += uint32(a.pending) << 8
		if sum > 0xFFFF {
			sum = (sum & 0xFFFF) + 1
		}
	}
	return ^uint16(sum)
}

// Reset clears the running sum.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}

// add folds the carry back in after every addition, as RFC 1071 does.
func (a *Accumulator) add(word uint16) {
	a.sum += uint32(word)
	if a.sum > 0xFFFF {
		a.sum = (a.sum & 0xFFFF) + 1
	}
}
