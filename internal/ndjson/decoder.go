package ndjson

import (
	"bytes"
	"errors"
	"io"
	"iter"
)

// DefaultReadBuffer is the chunk size used when reading from a stream.
const DefaultReadBuffer = 32 * 1024

// Decoder re-frames arbitrarily split byte chunks into complete lines.
// The zero value is ready to use.
type Decoder struct {
	pending []byte
}

// Feed appends a chunk and returns every line it completed.
// The trailing fragment without a terminator is retained for the next call.
func (d *Decoder) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	d.pending = append(d.pending, chunk...)
	var lines []string
	for {
		idx := bytes.IndexByte(d.pending, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, trimCR(d.pending[:idx]))
		d.pending = d.pending[idx+1:]
	}
	if len(d.pending) == 0 {
		d.pending = nil
	} else if cap(d.pending) > 4*len(d.pending) && cap(d.pending) > DefaultReadBuffer {
		d.pending = append([]byte(nil), d.pending...)
	}
	return lines
}

// Flush returns the buffered fragment once the stream has ended.
func (d *Decoder) Flush() (string, bool) {
	if len(d.pending) == 0 {
		return "", false
	}
	line := trimCR(d.pending)
	d.pending = nil
	return line, true
}

// Pending reports the number of buffered bytes awaiting a terminator.
func (d *Decoder) Pending() int {
	return len(d.pending)
}

// Reset discards any buffered fragment.
func (d *Decoder) Reset() {
	d.pending = nil
}

// trimCR converts a raw record into a line, dropping a CRLF carriage return.
func trimCR(raw []byte) string {
	if n := len(raw); n > 0 && raw[n-1] == '\r' {
		raw = raw[:n-1]
	}
	return string(raw)
}

// Lines lazily yields the lines of r, reading bufSize bytes at a time.
// A read error other than io.EOF is yielded once and ends the sequence.
func Lines(r io.Reader, bufSize int) iter.Seq2[string, error] {
	if bufSize <= 0 {
		bufSize = DefaultReadBuffer
	}
	return func(yield func(string, error) bool) {
		var dec Decoder
		buf := make([]byte, bufSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, line := range dec.Feed(buf[:n]) {
					if !yield(line, nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				if line, ok := dec.Flush(); ok {
					yield(line, nil)
				}
				return
			}
			if err != nil {
				yield("", err)
				return
			}
		}
	}
}
