package loadcell

import "bytes"

// MaxLineLength bounds the carry-over buffer.  A partial line that grows past
// it is handed out once as-is, so it can be rejected as malformed, and the
// rest of it is dropped up to the next terminator.
const MaxLineLength = 4096

// Framer splits a byte stream into newline terminated lines.  Bytes after the
// last newline are carried over to the next Feed.
type Framer struct {
	buf []byte

	// skipping is true while the tail of an overlong line is dropped
	skipping bool
}

// Feed appends chunk to the carried-over bytes and returns every complete
// line, without its terminator or trailing carriage return.  chunk may be
// empty.
func (f *Framer) Feed(chunk []byte) [][]byte {
	if f.skipping {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			return nil
		}
		chunk = chunk[i+1:]
		f.skipping = false
	}
	f.buf = append(f.buf, chunk...)
	var (
		lines [][]byte
		start int
	)
	for {
		i := bytes.IndexByte(f.buf[start:], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(f.buf[start:start+i], "\r")
		lines = append(lines, append([]byte(nil), line...))
		start += i + 1
	}
	f.buf = f.buf[:copy(f.buf, f.buf[start:])]
	if len(f.buf) > MaxLineLength {
		lines = append(lines, append([]byte(nil), f.buf...))
		f.buf = f.buf[:0]
		f.skipping = true
	}
	return lines
}

// Partial returns a copy of the bytes waiting for a terminator
func (f *Framer) Partial() []byte {
	return append([]byte(nil), f.buf...)
}

// Reset discards the carried-over bytes
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.skipping = false
}
