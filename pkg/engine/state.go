// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

// State is implemented by both ClientState and ServerState.
type State[S any] interface {
	comparable
	String() string

	// CanTransition checks if a change from this State to another is allowed.
	CanTransition(to S) bool
}

// ClientState is a client's connection state.
type ClientState uint

const (
	Disconnected ClientState = iota
	Connecting
	Connected
)

func (cs ClientState) String() string {
	switch cs {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// CanTransition allows Disconnected -> Connecting -> Connected -> Disconnected, retries within Connecting and
// giving up from Connecting.
func (cs ClientState) CanTransition(to ClientState) bool {
	switch cs {
	case Disconnected:
		return to == Connecting
	case Connecting:
		return to == Connecting || to == Connected || to == Disconnected
	case Connected:
		return to == Disconnected
	default:
		return false
	}
}

// ServerState is a server's run state.
type ServerState uint

const (
	NotRunning ServerState = iota
	Running
)

func (ss ServerState) String() string {
	switch ss {
	case NotRunning:
		return "not running"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// CanTransition allows NotRunning -> Running -> NotRunning.
func (ss ServerState) CanTransition(to ServerState) bool {
	return (ss == NotRunning && to == Running) || (ss == Running && to == NotRunning)
}

// PeerState is the state of a single connection accepted by a server.
type PeerState uint

const (
	// Negotiating is the transient state of an accepted connection during its handshake.
	Negotiating PeerState = iota
	Established
	Closed
)

func (ps PeerState) String() string {
	switch ps {
	case Negotiating:
		return "negotiating"
	case Established:
		return "established"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
