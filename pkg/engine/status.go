// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"fmt"

	"github.com/google/uuid"
)

// EventType indicates the kind of a Status.
type EventType uint

const (
	_ EventType = iota

	// PeerConnected shows an established connection. For servers, Peer names the new client.
	PeerConnected

	// PeerDisconnected shows a terminated connection. Err might carry the cause.
	PeerDisconnected

	// DataReceived carries a received payload within Data.
	DataReceived

	// ConnectingException reports a failed connection attempt; Attempt is its number. Further attempts may follow.
	ConnectingException

	// HandshakeTimeout reports a peer not answering the handshake in time.
	HandshakeTimeout

	// HandshakeUnsuccessful reports a rejected handshake.
	HandshakeUnsuccessful

	// ReceiveTimeout reports an expired receive operation; the connection is terminated afterwards.
	ReceiveTimeout

	// Exception is a non-fatal error, e.g., an undecryptable payload.
	Exception

	// ServerStarted and ServerStopped follow a server's state.
	ServerStarted
	ServerStopped

	// ClientRejected reports a connection refused because of the server's capacity.
	ClientRejected
)

func (et EventType) String() string {
	switch et {
	case PeerConnected:
		return "Peer Connected"
	case PeerDisconnected:
		return "Peer Disconnected"
	case DataReceived:
		return "Data Received"
	case ConnectingException:
		return "Connecting Exception"
	case HandshakeTimeout:
		return "Handshake Timeout"
	case HandshakeUnsuccessful:
		return "Handshake Unsuccessful"
	case ReceiveTimeout:
		return "Receive Timeout"
	case Exception:
		return "Exception"
	case ServerStarted:
		return "Server Started"
	case ServerStopped:
		return "Server Stopped"
	case ClientRejected:
		return "Client Rejected"
	default:
		return "Unknown Type"
	}
}

// Status allows transmission of information via a return channel from an Engine.
type Status struct {
	Sender Engine
	Type   EventType

	// Peer is the remote side's identity, if known.
	Peer uuid.UUID

	Data    []byte
	Err     error
	Attempt int
}

func (s Status) String() string {
	switch {
	case s.Err != nil:
		return fmt.Sprintf("%v-Status from %v for %v: %v", s.Type, s.Sender, s.Peer, s.Err)
	case s.Type == DataReceived:
		return fmt.Sprintf("%v-Status from %v for %v: %d bytes", s.Type, s.Sender, s.Peer, len(s.Data))
	default:
		return fmt.Sprintf("%v-Status from %v for %v", s.Type, s.Sender, s.Peer)
	}
}

// NewStatus for an EventType without further content.
func NewStatus(sender Engine, eventType EventType, peer uuid.UUID) Status {
	return Status{
		Sender: sender,
		Type:   eventType,
		Peer:   peer,
	}
}

// NewDataReceived creates a new Status for a received payload.
func NewDataReceived(sender Engine, peer uuid.UUID, data []byte) Status {
	return Status{
		Sender: sender,
		Type:   DataReceived,
		Peer:   peer,
		Data:   data,
	}
}

// NewErrorStatus creates a new Status for an EventType caused by an error.
func NewErrorStatus(sender Engine, eventType EventType, peer uuid.UUID, err error) Status {
	return Status{
		Sender: sender,
		Type:   eventType,
		Peer:   peer,
		Err:    err,
	}
}

// NewConnectingException creates a new Status for a failed connection attempt.
func NewConnectingException(sender Engine, attempt int, err error) Status {
	return Status{
		Sender:  sender,
		Type:    ConnectingException,
		Err:     err,
		Attempt: attempt,
	}
}
