// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package handshake

import (
	"io"

	"github.com/dtn7/sockline/pkg/codec"
	"github.com/dtn7/sockline/pkg/msgs"
)

// NeedsFraming checks if handshake blocks must be framed. Only untransformed blocks on a non payload-aware stream
// are exchanged as raw, fixed-size blocks.
func NeedsFraming(payloadAware bool, pipeline codec.Pipeline) bool {
	return payloadAware || pipeline.Crypto != codec.NoEncryption || pipeline.Compression != codec.NoCompression
}

// StreamConduit exchanges blocks over a byte stream, e.g., a TCP connection.
type StreamConduit struct {
	rw       io.ReadWriter
	pipeline codec.Pipeline
	marker   []byte
	framed   bool
	acc      *codec.Accumulator
}

// NewStreamConduit for a stream. Blocks are processed by the pipeline and, if framed, prefixed by a payload header.
func NewStreamConduit(rw io.ReadWriter, pipeline codec.Pipeline, marker []byte, framed bool) *StreamConduit {
	return &StreamConduit{
		rw:       rw,
		pipeline: pipeline,
		marker:   marker,
		framed:   framed,
		acc:      codec.NewAccumulator(rw, marker, codec.DefaultBufferSize),
	}
}

// WriteBlock processes and writes a block.
func (sc *StreamConduit) WriteBlock(data []byte) error {
	out, err := sc.pipeline.Transmit(data)
	if err != nil {
		return err
	}

	if sc.framed {
		out = codec.AddHeader(out, sc.marker)
	}

	_, err = sc.rw.Write(out)
	return err
}

// ReadBlock reads the next block and reverts its processing.
func (sc *StreamConduit) ReadBlock() ([]byte, error) {
	if !sc.framed {
		data := make([]byte, msgs.HandshakeSize)
		if _, err := io.ReadFull(sc.rw, data); err != nil {
			return nil, err
		}
		return data, nil
	}

	data, err := sc.acc.Next()
	if err != nil {
		return nil, err
	}
	return sc.pipeline.Receive(data)
}
