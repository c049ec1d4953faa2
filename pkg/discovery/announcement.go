// SPDX-FileCopyrightText: 2020 Markus Sommer
// SPDX-FileCopyrightText: 2020, 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/dtn7/cboring"
	"github.com/google/uuid"

	"github.com/dtn7/sockline/pkg/factory"
)

// Announcement of a running server.
type Announcement struct {
	// Protocol of the server, one of factory's TCP, QUIC or UDP.
	Protocol string

	// ID of the server, as exchanged within the handshake.
	ID uuid.UUID

	Port uint
}

// checkProtocol rejects protocols without a server.
func checkProtocol(protocol string) error {
	switch protocol {
	case factory.TCP, factory.QUIC, factory.UDP:
		return nil
	default:
		return fmt.Errorf("protocol %q cannot be announced", protocol)
	}
}

// UnmarshalAnnouncements creates a new array of Announcement based on a CBOR byte string.
func UnmarshalAnnouncements(data []byte) (announcements []Announcement, err error) {
	buff := bytes.NewBuffer(data)

	if l, cErr := cboring.ReadArrayLength(buff); cErr != nil {
		err = cErr
		return
	} else {
		announcements = make([]Announcement, l)
	}

	for i := 0; i < len(announcements); i++ {
		if cErr := cboring.Unmarshal(&announcements[i], buff); cErr != nil {
			err = fmt.Errorf("unmarshalling Announcement %d failed: %v", i, cErr)
			return
		}
	}

	return
}

// MarshalAnnouncements into a CBOR byte string.
func MarshalAnnouncements(announcements []Announcement) (data []byte, err error) {
	buff := new(bytes.Buffer)

	if cErr := cboring.WriteArrayLength(uint64(len(announcements)), buff); cErr != nil {
		err = cErr
		return
	}

	for i := range announcements {
		announcement := announcements[i]
		if cErr := cboring.Marshal(&announcement, buff); cErr != nil {
			err = fmt.Errorf("marshalling Announcement %d (%v) failed: %v", i, announcement, cErr)
			return
		}
	}

	data = buff.Bytes()
	return
}

// MarshalCbor creates a CBOR representation for an Announcement.
func (announcement *Announcement) MarshalCbor(w io.Writer) error {
	if err := checkProtocol(announcement.Protocol); err != nil {
		return err
	}

	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(announcement.Protocol, w); err != nil {
		return err
	}
	if err := cboring.WriteByteString(announcement.ID[:], w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(announcement.Port), w); err != nil {
		return err
	}

	return nil
}

// UnmarshalCbor creates an Announcement from its CBOR representation.
func (announcement *Announcement) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 3 {
		return fmt.Errorf("wrong array length: %d instead of 3", l)
	}

	if protocol, err := cboring.ReadTextString(r); err != nil {
		return err
	} else if err := checkProtocol(protocol); err != nil {
		return err
	} else {
		announcement.Protocol = protocol
	}

	if id, err := cboring.ReadByteString(r); err != nil {
		return err
	} else if parsed, err := uuid.FromBytes(id); err != nil {
		return fmt.Errorf("unmarshalling ID failed: %v", err)
	} else {
		announcement.ID = parsed
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if n == 0 || n > 65535 {
		return fmt.Errorf("invalid port %d", n)
	} else {
		announcement.Port = uint(n)
	}

	return nil
}

// connString to reach the announced server at the address it was announced from.
func (announcement Announcement) connString(address string) string {
	if announcement.Protocol == factory.UDP {
		server := net.JoinHostPort(address, strconv.FormatUint(uint64(announcement.Port), 10))
		return fmt.Sprintf("protocol=%s; server=%s", announcement.Protocol, server)
	}
	return fmt.Sprintf("protocol=%s; server=%s; port=%d", announcement.Protocol, address, announcement.Port)
}

func (announcement Announcement) String() string {
	return fmt.Sprintf("Announcement(%s,%v,%d)", announcement.Protocol, announcement.ID, announcement.Port)
}
