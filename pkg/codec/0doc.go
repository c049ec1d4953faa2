// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package codec prepares payloads for the wire and restores them on reception.
//
// On transmission, a payload is first compressed and afterwards encrypted; reception applies the inverse order. When
// payload-aware framing is enabled, the processed payload is prefixed by a header of a marker and a little-endian
// length field. Streaming transports reassemble those frames through an Accumulator.
package codec

const (
	// LengthFieldSize is the size of the length field following a marker.
	LengthFieldSize = 4

	// MaxPayloadSize is the upper bound for a single payload, 500 MiB.
	MaxPayloadSize = 500 * 1024 * 1024
)

// DefaultMarker precedes each payload's length field unless another marker is configured.
var DefaultMarker = []byte{0xAA, 0xBB, 0xCC, 0xDD}
