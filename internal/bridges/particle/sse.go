package particle

import (
	"bytes"
	"strings"
)

// frameDelimiter separates SSE records.
var frameDelimiter = []byte("\n\n")

// dataPrefix marks the payload line within a frame.
const dataPrefix = "data: "

// Decoder reassembles SSE frames from an arbitrarily chunked byte stream.
//
// Feed may be called with chunks of any size, down to a single byte; the
// sequence of payloads returned is the same for every way of splitting the
// input. A Decoder belongs to one connection: create a fresh one on every
// reconnect so partial frames never leak across connections.
//
// Thread Safety:
//   - Not safe for concurrent use. The supervisor feeds it from one goroutine.
type Decoder struct {
	buf []byte
}

// NewDecoder creates an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the buffer and returns the payload of every frame
// completed by it, in arrival order.
//
// Frames without a "data: " line, and blank frames, produce nothing. The
// incomplete remainder stays buffered until a later chunk completes it.
func (d *Decoder) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var payloads []string
	for {
		idx := bytes.Index(d.buf, frameDelimiter)
		if idx < 0 {
			break
		}

		frame := string(d.buf[:idx])
		d.buf = d.buf[idx+len(frameDelimiter):]

		if strings.TrimSpace(frame) == "" {
			continue
		}
		if payload, ok := ParseFrame(strings.Split(frame, "\n")); ok {
			payloads = append(payloads, payload)
		}
	}

	// Drop the drained backing array.
	if len(d.buf) == 0 {
		d.buf = nil
	}

	return payloads
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// ParseFrame extracts the payload from the lines of one SSE frame.
//
// The first line starting with the literal prefix "data: " yields its
// remainder. All other lines (event:, id:, comments) are ignored. A frame
// without a data line, or whose data is empty, yields ok == false.
func ParseFrame(lines []string) (payload string, ok bool) {
	for _, line := range lines {
		if rest, found := strings.CutPrefix(line, dataPrefix); found {
			if rest == "" {
				return "", false
			}
			return rest, true
		}
	}
	return "", false
}
