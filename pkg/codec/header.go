// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package codec

import (
	"bytes"
	"encoding/binary"
)

// HeaderSize of a payload header for the given marker.
func HeaderSize(marker []byte) int {
	return len(marker) + LengthFieldSize
}

// AddHeader returns a new buffer of the marker, the buffer's length, and the buffer itself.
func AddHeader(buf, marker []byte) []byte {
	out := make([]byte, HeaderSize(marker)+len(buf))

	copy(out, marker)
	binary.LittleEndian.PutUint32(out[len(marker):], uint32(int32(len(buf))))
	copy(out[HeaderSize(marker):], buf)

	return out
}

// HasHeader checks if the buffer starts with the marker.
func HasHeader(buf, marker []byte) bool {
	return len(buf) >= len(marker) && bytes.Equal(buf[:len(marker)], marker)
}

// ExtractLength reads the length field following the marker. The second return value is false if the buffer is
// too short or does not start with the marker; the length is -1 in this case.
func ExtractLength(buf, marker []byte) (int, bool) {
	if len(buf) < HeaderSize(marker) || !HasHeader(buf, marker) {
		return -1, false
	}

	return int(int32(binary.LittleEndian.Uint32(buf[len(marker):]))), true
}
