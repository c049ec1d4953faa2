// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package codec

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"
	"testing/iotest"
)

func TestAccumulatorOneByteReads(t *testing.T) {
	const bufferSize = 64

	rnd := rand.New(rand.NewSource(1))

	for _, size := range []int{0, 1, bufferSize + 1, 4 * bufferSize} {
		payload := make([]byte, size)
		rnd.Read(payload)

		r := iotest.OneByteReader(bytes.NewReader(AddHeader(payload, DefaultMarker)))
		acc := NewAccumulator(r, DefaultMarker, bufferSize)

		out, err := acc.Next()
		if err != nil {
			t.Fatalf("Size %d: %v", size, err)
		}
		if !bytes.Equal(out, payload) {
			t.Fatalf("Size %d: reassembled payload differs", size)
		}

		if _, err := acc.Next(); err != io.EOF {
			t.Fatalf("Size %d: expected EOF, got %v", size, err)
		}
	}
}

func TestAccumulatorSequence(t *testing.T) {
	payloads := [][]byte{[]byte("hello"), {}, []byte("world"), bytes.Repeat([]byte{0x01}, 1000)}

	buff := new(bytes.Buffer)
	for _, payload := range payloads {
		buff.Write(AddHeader(payload, DefaultMarker))
	}

	acc := NewAccumulator(iotest.HalfReader(buff), DefaultMarker, 16)
	for i, payload := range payloads {
		out, err := acc.Next()
		if err != nil {
			t.Fatalf("Payload %d: %v", i, err)
		}
		if !bytes.Equal(out, payload) {
			t.Fatalf("Payload %d differs: %x", i, out)
		}
	}
}

func TestAccumulatorDataErr(t *testing.T) {
	r := iotest.DataErrReader(bytes.NewReader(AddHeader([]byte("last"), DefaultMarker)))
	acc := NewAccumulator(r, DefaultMarker, 0)

	if out, err := acc.Next(); err != nil || string(out) != "last" {
		t.Fatalf("Next returned %q, %v", out, err)
	}
	if _, err := acc.Next(); err != io.EOF {
		t.Fatalf("Expected EOF, got %v", err)
	}
}

func TestAccumulatorResync(t *testing.T) {
	stream := append([]byte{0x00, 0xAA, 0x13}, AddHeader([]byte("payload"), DefaultMarker)...)

	acc := NewAccumulator(bytes.NewReader(stream), DefaultMarker, 0)
	out, err := acc.Next()
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "payload" {
		t.Fatalf("Payload is %q", out)
	}
	if s := acc.Skipped(); s != 3 {
		t.Fatalf("Skipped %d bytes instead of 3", s)
	}
}

func TestAccumulatorInvalidLength(t *testing.T) {
	header := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xFF, 0xFF, 0xFF, 0xFF}

	acc := NewAccumulator(bytes.NewReader(header), DefaultMarker, 0)
	if _, err := acc.Next(); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("Expected ErrInvalidLength, got %v", err)
	}
}

func TestAccumulatorTruncated(t *testing.T) {
	framed := AddHeader([]byte("truncated payload"), DefaultMarker)

	acc := NewAccumulator(bytes.NewReader(framed[:len(framed)-3]), DefaultMarker, 0)
	if _, err := acc.Next(); err != io.ErrUnexpectedEOF {
		t.Fatalf("Expected unexpected EOF, got %v", err)
	}
}

func TestAccumulatorRaw(t *testing.T) {
	acc := NewAccumulator(bytes.NewReader([]byte("raw bytes")), DefaultMarker, 4)

	if out, err := acc.ReadRaw(); err != nil || string(out) != "raw " {
		t.Fatalf("ReadRaw returned %q, %v", out, err)
	}
}

// glitchReader returns its first chunk together with an error, the remaining data afterwards.
type glitchReader struct {
	first []byte
	err   error
	rest  io.Reader
}

func (gr *glitchReader) Read(p []byte) (int, error) {
	if gr.first != nil {
		n := copy(p, gr.first)
		gr.first = nil
		return n, gr.err
	}
	return gr.rest.Read(p)
}

func TestAccumulatorResetClearsError(t *testing.T) {
	errGlitch := errors.New("glitch")
	framed := AddHeader([]byte("after the glitch"), DefaultMarker)

	acc := NewAccumulator(&glitchReader{
		first: framed[:3],
		err:   errGlitch,
		rest:  bytes.NewReader(framed),
	}, DefaultMarker, 0)

	if _, err := acc.Next(); !errors.Is(err, errGlitch) {
		t.Fatalf("Expected the glitch, got %v", err)
	}

	acc.Reset()

	if out, err := acc.Next(); err != nil || string(out) != "after the glitch" {
		t.Fatalf("Next after Reset returned %q, %v", out, err)
	}
	if _, err := acc.Next(); err != io.EOF {
		t.Fatalf("Expected EOF, got %v", err)
	}
}
