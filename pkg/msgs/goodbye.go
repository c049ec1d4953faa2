// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msgs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// GoodbyeSize is the total wire size of a GoodbyeMessage.
const GoodbyeSize = 2 + 16

// GoodbyeMarker starts each GoodbyeMessage.
var GoodbyeMarker = [2]byte{0xA3, 0xC4}

// GoodbyeMessage announces an orderly disconnect on connectionless transports.
type GoodbyeMessage struct {
	ID uuid.UUID
}

// NewGoodbyeMessage for the leaving peer's identity.
func NewGoodbyeMessage(id uuid.UUID) *GoodbyeMessage {
	return &GoodbyeMessage{ID: id}
}

// IsGoodbye checks if a block starts with the GoodbyeMarker and has the correct size.
func IsGoodbye(data []byte) bool {
	return len(data) == GoodbyeSize && bytes.Equal(data[:2], GoodbyeMarker[:])
}

func (gm GoodbyeMessage) String() string {
	return fmt.Sprintf("GOODBYE(ID=%v)", gm.ID)
}

func (gm GoodbyeMessage) Marshal(w io.Writer) error {
	for _, data := range [][]byte{GoodbyeMarker[:], gm.ID[:]} {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func (gm *GoodbyeMessage) Unmarshal(r io.Reader) error {
	data := make([]byte, GoodbyeSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("GOODBYE is too short: %w", err)
	} else if !IsGoodbye(data) {
		return fmt.Errorf("GOODBYE's marker is wrong: %x instead of %x", data[:2], GoodbyeMarker)
	}

	copy(gm.ID[:], data[2:])
	return nil
}
