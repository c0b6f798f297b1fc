// Package sse provides an incremental Server-Sent Events frame parser that
// tolerates arbitrary chunk boundaries, and a typed decoder on top of it.
package sse

import (
	"bytes"
	"strings"
)

// Frame is one complete SSE record.
type Frame struct {
	// Event is the value of the "event:" line. Empty for data-only frames.
	Event string
	// Data is the payload. Multiple "data:" lines are joined with newlines.
	Data string
}

var frameSep = []byte("\n\n")

// Parser splits a byte stream into frames. Bytes after the last separator are
// carried into the next Feed call. A Parser is not safe for concurrent use.
type Parser struct {
	buf    []byte
	pendCR bool
}

// Feed appends chunk to the buffer and returns every frame it completed.
func (p *Parser) Feed(chunk []byte) []Frame {
	p.appendNormalized(chunk)

	var frames []Frame
	for {
		idx := bytes.Index(p.buf, frameSep)
		if idx < 0 {
			break
		}
		raw := p.buf[:idx]
		if f, ok := parseFrame(raw); ok {
			frames = append(frames, f)
		}
		p.buf = p.buf[idx+len(frameSep):]
	}
	// Reclaim the consumed prefix so the buffer does not grow without bound.
	if len(p.buf) == 0 {
		p.buf = p.buf[:0:0]
	}
	return frames
}

// Flush returns the unterminated trailing frame at end of stream, if any, and
// resets the parser.
func (p *Parser) Flush() (Frame, bool) {
	raw := p.buf
	p.buf = nil
	p.pendCR = false
	return parseFrame(raw)
}

// Buffered reports the number of bytes waiting for a separator.
func (p *Parser) Buffered() int { return len(p.buf) }

// appendNormalized converts CRLF and lone CR to LF. A CR at the very end of a
// chunk is held back until the next byte shows whether an LF follows.
func (p *Parser) appendNormalized(chunk []byte) {
	for _, b := range chunk {
		if p.pendCR {
			p.pendCR = false
			p.buf = append(p.buf, '\n')
			if b == '\n' {
				continue
			}
		}
		if b == '\r' {
			p.pendCR = true
			continue
		}
		p.buf = append(p.buf, b)
	}
}

func parseFrame(raw []byte) (Frame, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Frame{}, false
	}

	var (
		f       Frame
		data    []string
		hasData bool
	)
	for _, line := range strings.Split(string(raw), "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value := parseLine(line)
		switch field {
		case "event":
			f.Event = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
	if !hasData && f.Event == "" {
		return Frame{}, false
	}
	f.Data = strings.Join(data, "\n")
	return f, true
}

func parseLine(line string) (field, value string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	field = line[:idx]
	value = line[idx+1:]
	if value != "" && value[0] == ' ' {
		value = value[1:]
	}
	return field, value
}
