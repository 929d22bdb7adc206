package capture

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// IEEE 802.15.4 link types (tcpdump.org/linktypes.html).
const (
	LinkTypeIEEE802154      layers.LinkType = 195 // with FCS
	LinkTypeIEEE802154NoFCS layers.LinkType = 230
)

// pcapng section header block type; the byte order is the same either way.
var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// ErrUnsupportedLinkType is returned for captures that do not carry 802.15.4.
var ErrUnsupportedLinkType = errors.New("capture: unsupported link type")

// Frame is one captured 802.15.4 frame wrapped in sniffer delimiters.
type Frame struct {
	Data      []byte
	Timestamp time.Time
}

// PcapReader replays 802.15.4 frames from a pcap or pcapng file.
type PcapReader struct {
	file     *os.File
	next     func() ([]byte, time.Time, error)
	linkType layers.LinkType
}

// NewPcapReader opens a capture file for reading.
func NewPcapReader(path string) (*PcapReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pcap file %q: %w", path, err)
	}
	pr, err := newPcapReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open pcap file %q: %w", path, err)
	}
	pr.file = f
	return pr, nil
}

func newPcapReader(r io.Reader) (*PcapReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}

	pr := &PcapReader{}
	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, err
		}
		pr.linkType = ng.LinkType()
		pr.next = func() ([]byte, time.Time, error) {
			data, ci, err := ng.ReadPacketData()
			return data, ci.Timestamp, err
		}
	} else {
		rd, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, err
		}
		pr.linkType = rd.LinkType()
		pr.next = func() ([]byte, time.Time, error) {
			data, ci, err := rd.ReadPacketData()
			return data, ci.Timestamp, err
		}
	}

	if pr.linkType != LinkTypeIEEE802154 && pr.linkType != LinkTypeIEEE802154NoFCS {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedLinkType, pr.linkType)
	}
	return pr, nil
}

// LinkType returns the link layer type of the file.
func (pr *PcapReader) LinkType() layers.LinkType {
	return pr.linkType
}

// Next returns the next frame, delimited as the sniffer would have written
// it. The FCS is stripped for LinkTypeIEEE802154. It returns io.EOF at the
// end of the file.
func (pr *PcapReader) Next() (Frame, error) {
	data, ts, err := pr.next()
	if err != nil {
		return Frame{}, err
	}
	if pr.linkType == LinkTypeIEEE802154 && len(data) >= 2 {
		data = data[:len(data)-2]
	}
	out := make([]byte, 0, len(data)+2)
	out = append(out, Delimiter)
	out = append(out, data...)
	out = append(out, Delimiter)
	return Frame{Data: out, Timestamp: ts}, nil
}

// Close releases the file.
func (pr *PcapReader) Close() {
	if pr.file != nil {
		pr.file.Close()
	}
}
