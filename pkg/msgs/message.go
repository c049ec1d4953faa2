// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package msgs contains the fixed-size binary messages exchanged before and after regular payloads.
package msgs

import (
	"bytes"
	"fmt"
	"io"
)

// Message describes all kind of fixed-size messages, which have their serialization and deserialization in common.
type Message interface {
	Marshal(w io.Writer) error
	Unmarshal(r io.Reader) error
}

// MarshalBytes serializes a Message into a new byte slice.
func MarshalBytes(msg interface{ Marshal(w io.Writer) error }) ([]byte, error) {
	buff := new(bytes.Buffer)
	if err := msg.Marshal(buff); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

// ParseMessage detects the kind of a received block by its size and marker.
func ParseMessage(data []byte) (msg Message, err error) {
	switch {
	case len(data) == GoodbyeSize && IsGoodbye(data):
		msg = &GoodbyeMessage{}
	case len(data) == HandshakeSize:
		msg = &HandshakeMessage{}
	default:
		err = fmt.Errorf("no message of %d bytes known", len(data))
		return
	}

	err = msg.Unmarshal(bytes.NewReader(data))
	return
}
