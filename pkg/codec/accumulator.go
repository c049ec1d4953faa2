// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package codec

import (
	"errors"
	"fmt"
	"io"
)

// ErrInvalidLength is returned for a declared payload length being negative or exceeding MaxPayloadSize.
var ErrInvalidLength = errors.New("invalid payload length")

// DefaultBufferSize is the default upper bound of bytes requested by a single read.
const DefaultBufferSize = 8192

// Accumulator reassembles framed payloads from a stream. It alternates between awaiting a header and accumulating
// the announced payload. Reads never exceed the current frame, thus no bytes of the following frame are consumed.
//
// An Accumulator is not safe for concurrent use.
type Accumulator struct {
	r          io.Reader
	marker     []byte
	bufferSize int

	header []byte
	offset int

	// skipped counts the bytes dropped while searching for the next marker.
	skipped int

	// err is a pending error of a read which returned data as well.
	err error
}

// NewAccumulator for a reader and a marker. Single reads are limited to bufferSize bytes; a non-positive
// bufferSize falls back to DefaultBufferSize.
func NewAccumulator(r io.Reader, marker []byte, bufferSize int) *Accumulator {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	return &Accumulator{
		r:          r,
		marker:     marker,
		bufferSize: bufferSize,
		header:     make([]byte, HeaderSize(marker)),
	}
}

// read wraps the reader's Read. A read of zero bytes without an error counts as the end of the stream.
func (a *Accumulator) read(buf []byte) (int, error) {
	if a.err != nil {
		return 0, a.err
	}

	n, err := a.r.Read(buf)
	switch {
	case n > 0 && err != nil:
		a.err = err
		return n, nil
	case n == 0 && err == nil:
		return 0, io.EOF
	default:
		return n, err
	}
}

// Skipped returns the amount of bytes dropped while resynchronizing on the marker.
func (a *Accumulator) Skipped() int {
	return a.skipped
}

// Reset discards a partially read header and a pending read error, e.g., after an erroneous frame.
func (a *Accumulator) Reset() {
	a.offset = 0
	a.err = nil
}

// Next blocks until the next complete payload is available. The returned payload is still processed, i.e.,
// compressed or encrypted. io.EOF signals an orderly end of the stream.
func (a *Accumulator) Next() ([]byte, error) {
	length, err := a.awaitLength()
	if err != nil {
		return nil, err
	}

	payload := make([]byte, length)
	for offset := 0; offset < length; {
		end := offset + a.bufferSize
		if end > length {
			end = length
		}

		n, err := a.read(payload[offset:end])
		offset += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}

	return payload, nil
}

func (a *Accumulator) awaitLength() (int, error) {
	for {
		for a.offset < len(a.header) {
			n, err := a.read(a.header[a.offset:])
			a.offset += n
			if err != nil {
				if errors.Is(err, io.EOF) && a.offset > 0 {
					err = io.ErrUnexpectedEOF
				}
				return 0, err
			}
		}

		if length, ok := ExtractLength(a.header, a.marker); ok {
			a.offset = 0

			if length < 0 || length > MaxPayloadSize {
				return 0, fmt.Errorf("%w: %d", ErrInvalidLength, length)
			}
			return length, nil
		}

		// Slide by one byte until the marker lines up again.
		copy(a.header, a.header[1:])
		a.offset--
		a.skipped++
	}
}

// ReadRaw returns the bytes of a single read without any reassembly.
func (a *Accumulator) ReadRaw() ([]byte, error) {
	buf := make([]byte, a.bufferSize)
	n, err := a.read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
