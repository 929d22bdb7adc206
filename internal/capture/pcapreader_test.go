package capture

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ackFrame = []byte{0xc0, 0x02, 0x00, 0x05, 0xc0}

func TestRecorderReplay(t *testing.T) {
	var buf bytes.Buffer
	rec, err := newRecorder(&buf)
	require.NoError(t, err)

	ts := time.Unix(1700000000, 123456000)
	require.NoError(t, rec.Record(ackFrame, ts))
	require.NoError(t, rec.Record([]byte{0xc0, 0x41, 0xc8, 0x07, 0xc0}, ts.Add(time.Second)))
	assert.Equal(t, 2, rec.Count())

	pr, err := newPcapReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, LinkTypeIEEE802154NoFCS, pr.LinkType())

	f, err := pr.Next()
	require.NoError(t, err)
	assert.Equal(t, ackFrame, f.Data)
	assert.True(t, ts.Equal(f.Timestamp))

	f, err = pr.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xc0, 0x41, 0xc8, 0x07, 0xc0}, f.Data)

	_, err = pr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestPcapReaderStripsFCS(t *testing.T) {
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(128, LinkTypeIEEE802154))
	data := []byte{0x02, 0x00, 0x05, 0xaa, 0xbb}
	require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     time.Unix(1, 0),
		CaptureLength: len(data),
		Length:        len(data),
	}, data))

	pr, err := newPcapReader(&buf)
	require.NoError(t, err)
	f, err := pr.Next()
	require.NoError(t, err)
	assert.Equal(t, ackFrame, f.Data)
}

func TestPcapReaderRejectsEthernet(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, pcapgo.NewWriter(&buf).WriteFileHeader(65535, layers.LinkTypeEthernet))

	_, err := newPcapReader(&buf)
	assert.ErrorIs(t, err, ErrUnsupportedLinkType)
}

func TestNewPcapReaderFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sniff.pcap")
	rec, err := NewRecorder(path)
	require.NoError(t, err)
	require.NoError(t, rec.Record(ackFrame, time.Now()))
	require.NoError(t, rec.Close())

	pr, err := NewPcapReader(path)
	require.NoError(t, err)
	defer pr.Close()
	f, err := pr.Next()
	require.NoError(t, err)
	assert.Equal(t, ackFrame, f.Data)

	_, err = NewPcapReader(filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, err)
}

func TestOpenSourceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.bin")
	require.NoError(t, os.WriteFile(path, ackFrame, 0644))

	rc, err := OpenSource(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, ackFrame, data)
	assert.Equal(t, path, DescribeSource(path))
}

func TestOpenSourceTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write(ackFrame)
		conn.Close()
	}()

	spec := "tcp://" + ln.Addr().String()
	rc, err := OpenSource(context.Background(), spec)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, ackFrame, data)
	assert.Equal(t, "tcp "+ln.Addr().String(), DescribeSource(spec))
}

func TestDescribeStdin(t *testing.T) {
	assert.Equal(t, "stdin", DescribeSource("-"))
	assert.Equal(t, "stdin", DescribeSource(""))
}

func TestOpenSourceStdinClosesUnderlyingFile(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	orig := stdin
	stdin = r
	defer func() { stdin = orig }()

	rc, err := OpenSource(context.Background(), "-")
	require.NoError(t, err)
	assert.Same(t, r, rc)

	readErr := make(chan error, 1)
	go func() {
		_, err := rc.Read(make([]byte, 16))
		readErr <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, rc.Close())

	select {
	case err := <-readErr:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked read on stdin did not return after Close")
	}
}
