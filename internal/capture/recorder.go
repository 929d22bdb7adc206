package capture

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

// recorderSnapLen is the largest 802.15.4g PSDU.
const recorderSnapLen = 2047

// Recorder writes every frame to a pcap file as LinkTypeIEEE802154NoFCS so
// a session can be replayed later or opened in Wireshark.
type Recorder struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	count  int
}

// NewRecorder creates (or truncates) the pcap file at path.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcap file %q: %w", path, err)
	}
	r, err := newRecorder(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

func newRecorder(w io.Writer) (*Recorder, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(recorderSnapLen, LinkTypeIEEE802154NoFCS); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Recorder{w: pw}, nil
}

// Record writes one delimited frame. The delimiters are not stored.
func (r *Recorder) Record(frame []byte, ts time.Time) error {
	body := frame
	if len(body) >= 2 && body[0] == Delimiter && body[len(body)-1] == Delimiter {
		body = body[1 : len(body)-1]
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(body),
		Length:        len(body),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.WritePacket(ci, body); err != nil {
		return fmt.Errorf("write pcap record: %w", err)
	}
	r.count++
	return nil
}

// Count returns the number of frames recorded.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close closes the underlying file.
func (r *Recorder) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
