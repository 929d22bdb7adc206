package capture

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

const tcpScheme = "tcp://"

// stdin is swapped in tests.
var stdin io.ReadCloser = os.Stdin

// dialTimeout bounds connecting to a TCP serial bridge.
const dialTimeout = 10 * time.Second

// OpenSource opens the byte stream named by spec: "-" is stdin, tcp://host:port
// dials a serial-to-TCP bridge such as ser2net, anything else is opened as a
// file or device path. Serial line settings are left to the caller's system.
//
// Closing the returned stdin source closes the process's standard input, so
// a cancelled capture does not stay blocked in a read.
func OpenSource(ctx context.Context, spec string) (io.ReadCloser, error) {
	switch {
	case spec == "" || spec == "-":
		return stdin, nil
	case strings.HasPrefix(spec, tcpScheme):
		addr := strings.TrimPrefix(spec, tcpScheme)
		d := net.Dialer{Timeout: dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial sniffer bridge %s: %w", addr, err)
		}
		return conn, nil
	default:
		f, err := os.Open(spec)
		if err != nil {
			return nil, fmt.Errorf("open sniffer source %q: %w", spec, err)
		}
		return f, nil
	}
}

// DescribeSource returns a short label for logs and capture_started messages.
func DescribeSource(spec string) string {
	switch {
	case spec == "" || spec == "-":
		return "stdin"
	case strings.HasPrefix(spec, tcpScheme):
		return "tcp " + strings.TrimPrefix(spec, tcpScheme)
	default:
		return spec
	}
}
