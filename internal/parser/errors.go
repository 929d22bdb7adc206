package parser

import "errors"

// Decode failures. Each drops the frame; none is fatal to the pipeline.
var (
	ErrFraming           = errors.New("parser: corrupt framing")
	ErrUnsupportedHeader = errors.New("parser: unsupported header")
	ErrTruncated         = errors.New("parser: truncated data")
)

// ErrorKind names the class of a decode error for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrFraming):
		return "framing"
	case errors.Is(err, ErrUnsupportedHeader):
		return "unsupported_header"
	case errors.Is(err, ErrTruncated):
		return "truncated"
	default:
		return "other"
	}
}
