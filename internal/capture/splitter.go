package capture

import (
	"lowpansniff/internal/log"
)

const (
	// Delimiter opens and closes every frame the sniffer writes.
	Delimiter = 0xC0

	DefaultMaxFrameSize = 2048
)

// SplitFrames cuts buf into delimited frames. A frame closes at a delimiter
// that is the last byte of buf or is followed by another delimiter. Bytes
// after the last closed frame are dropped.
func SplitFrames(buf []byte) [][]byte {
	var frames [][]byte
	ptr := 0
	for i, b := range buf {
		if b != Delimiter {
			continue
		}
		if i == len(buf)-1 || buf[i+1] == Delimiter {
			frames = append(frames, buf[ptr:i+1])
			ptr = i + 1
		}
	}
	return frames
}

// Splitter is the stateful form of SplitFrames for streams that arrive in
// arbitrary chunks. An unterminated tail is carried into the next call so a
// frame split across two reads comes out whole.
type Splitter struct {
	tail    []byte
	max     int
	dropped int
}

// NewSplitter returns a Splitter that discards a carried tail once it grows
// past maxFrameSize bytes. Zero or less selects DefaultMaxFrameSize.
func NewSplitter(maxFrameSize int) *Splitter {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Splitter{max: maxFrameSize}
}

// Split returns the frames completed by chunk. Returned slices do not alias
// chunk or the Splitter's buffer.
func (s *Splitter) Split(chunk []byte) [][]byte {
	buf := append(s.tail, chunk...)

	var frames [][]byte
	ptr := 0
	for i, b := range buf {
		if b != Delimiter {
			continue
		}
		// A delimiter at the end of the data closes a frame only if it is
		// not the opening delimiter of one; otherwise wait for more bytes.
		closes := (i+1 < len(buf) && buf[i+1] == Delimiter) || (i == len(buf)-1 && i > ptr)
		if closes {
			frames = append(frames, append([]byte(nil), buf[ptr:i+1]...))
			ptr = i + 1
		}
	}

	rest := buf[ptr:]
	if len(rest) > s.max {
		s.dropped++
		log.GetLogger().WithFields(map[string]interface{}{
			"bytes": len(rest),
			"limit": s.max,
		}).Warn("discarding unterminated frame tail")
		rest = nil
	}
	s.tail = append(s.tail[:0:0], rest...)
	return frames
}

// Pending is the number of bytes carried into the next Split.
func (s *Splitter) Pending() int {
	return len(s.tail)
}

// Dropped counts tails discarded for exceeding the size limit.
func (s *Splitter) Dropped() int {
	return s.dropped
}

// Reset drops any carried bytes.
func (s *Splitter) Reset() {
	s.tail = nil
}
