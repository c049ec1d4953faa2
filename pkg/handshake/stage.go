// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package handshake implements the identity and passphrase exchange performed on each new connection.
//
// The exchange is a sequence of Stages, executed by a StageHandler. Each side sends exactly one HandshakeMessage:
// the active peer (client) introduces itself with the shared passphrase; the passive peer (server) validates it
// and answers with its own identity together with the key for the session. For a secure session, this key is
// freshly generated; otherwise it is the shared passphrase.
package handshake

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Conduit transports whole blocks between both peers, e.g., framed and ciphered by the engine's pipeline.
type Conduit interface {
	WriteBlock(data []byte) error
	ReadBlock() ([]byte, error)
}

// Configuration for stages.
type Configuration struct {
	// ActivePeer indicates if this peer is the initiating entity, i.e., the client.
	ActivePeer bool

	// ID is this peer's identity.
	ID uuid.UUID

	// Passphrase is the pre-shared secret.
	Passphrase string

	// SecureSession lets the passive peer generate a private session key.
	SecureSession bool

	// Timeout bounds waiting for the peer's message. Zero disables the timeout.
	Timeout time.Duration

	// Admit is an optional check of the passive peer for an authenticated identity, e.g., against duplicates.
	Admit func(peer uuid.UUID) error
}

// StageClose signals a closed stage, after calling the Close() method.
var StageClose = errors.New("stage closed down")

// State for stages, both used as input and as an altered output.
type State struct {
	// Configuration to be used; should not be altered.
	Configuration Configuration

	// Conduit to the peer.
	Conduit Conduit

	// StageError reports back the failure of a stage.
	StageError error

	// PeerID is the peer's identity.
	PeerID uuid.UUID

	// SessionKey is the key to be used for this session's cipher.
	SessionKey string
}

// Stage described by this interface.
type Stage interface {
	// Handle this Stage's action based on the previous Stage's State and the StageHandler's close channel.
	Handle(state *State, closeChan <-chan struct{})
}
