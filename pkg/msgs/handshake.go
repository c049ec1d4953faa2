// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package msgs

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

const (
	// PassphraseSize is the fixed width of the passphrase field, right-padded with spaces.
	PassphraseSize = 260

	// HandshakeSize is the total wire size of a HandshakeMessage.
	HandshakeSize = 16 + PassphraseSize
)

// HandshakeMessage identifies a peer and carries either the shared passphrase or a session key.
type HandshakeMessage struct {
	ID         uuid.UUID
	Passphrase string
}

// NewHandshakeMessage with the passphrase truncated to PassphraseSize bytes.
func NewHandshakeMessage(id uuid.UUID, passphrase string) *HandshakeMessage {
	return &HandshakeMessage{
		ID:         id,
		Passphrase: TruncatePassphrase(passphrase),
	}
}

// TruncatePassphrase cuts a passphrase to the first PassphraseSize bytes.
func TruncatePassphrase(passphrase string) string {
	if len(passphrase) > PassphraseSize {
		return passphrase[:PassphraseSize]
	}
	return passphrase
}

// NormalizePassphrase is a passphrase as received by the peer: truncated and without the right padding.
func NormalizePassphrase(passphrase string) string {
	return strings.TrimRight(TruncatePassphrase(passphrase), " ")
}

func (hm HandshakeMessage) String() string {
	return fmt.Sprintf("HANDSHAKE(ID=%v, Passphrase=%d bytes)", hm.ID, len(hm.Passphrase))
}

func (hm HandshakeMessage) Marshal(w io.Writer) error {
	field := bytes.Repeat([]byte{' '}, PassphraseSize)
	copy(field, TruncatePassphrase(hm.Passphrase))

	for _, data := range [][]byte{hm.ID[:], field} {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}

	return nil
}

func (hm *HandshakeMessage) Unmarshal(r io.Reader) error {
	data := make([]byte, HandshakeSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("HANDSHAKE is too short: %w", err)
	}

	copy(hm.ID[:], data[:16])
	hm.Passphrase = strings.TrimRight(string(data[16:]), " ")

	return nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (hm HandshakeMessage) MarshalBinary() ([]byte, error) {
	return MarshalBytes(hm)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (hm *HandshakeMessage) UnmarshalBinary(data []byte) error {
	if len(data) != HandshakeSize {
		return fmt.Errorf("HANDSHAKE has %d bytes instead of %d", len(data), HandshakeSize)
	}
	return hm.Unmarshal(bytes.NewReader(data))
}
