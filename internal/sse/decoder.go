package sse

import (
	"errors"
	"io"
)

const readChunkSize = 4096

// DecodeFunc turns one frame into zero or more items. Returning false skips
// the frame silently.
type DecodeFunc[T any] func(Frame) ([]T, bool)

// Decoder pulls bytes from a body, frames them and decodes each frame.
type Decoder[T any] struct {
	body    io.ReadCloser
	decode  DecodeFunc[T]
	parser  Parser
	pending []T
	buf     []byte
	eof     bool
}

func NewDecoder[T any](body io.ReadCloser, decode DecodeFunc[T]) *Decoder[T] {
	return &Decoder[T]{
		body:   body,
		decode: decode,
		buf:    make([]byte, readChunkSize),
	}
}

// Next returns the next decoded item, or io.EOF once the body is exhausted.
// Transport errors are returned as-is.
func (d *Decoder[T]) Next() (T, error) {
	var zero T
	for len(d.pending) == 0 {
		if d.eof {
			return zero, io.EOF
		}

		n, err := d.body.Read(d.buf)
		if n > 0 {
			d.push(d.parser.Feed(d.buf[:n])...)
		}
		if errors.Is(err, io.EOF) {
			d.eof = true
			if f, ok := d.parser.Flush(); ok {
				d.push(f)
			}
			continue
		}
		if err != nil {
			return zero, err
		}
	}

	item := d.pending[0]
	d.pending = d.pending[1:]
	return item, nil
}

func (d *Decoder[T]) Close() error {
	return d.body.Close()
}

func (d *Decoder[T]) push(frames ...Frame) {
	for _, f := range frames {
		items, ok := d.decode(f)
		if !ok {
			continue
		}
		d.pending = append(d.pending, items...)
	}
}
