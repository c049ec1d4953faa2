// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrPayloadTooLarge is returned for payloads exceeding codec.MaxPayloadSize after framing.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrNotConnected is returned when sending without an established connection.
	ErrNotConnected = errors.New("not connected")

	// ErrUnknownClient is returned for a server operation on an unregistered client.
	ErrUnknownClient = errors.New("unknown client")

	// ErrCapacityReached is reported for connections rejected because of MaxClientConnections.
	ErrCapacityReached = errors.New("maximum amount of clients reached")

	// ErrHandshakeTimeout reports a peer which did not answer the handshake in time.
	ErrHandshakeTimeout = errors.New("handshake timed out")

	// ErrHandshakeUnsuccessful reports a rejected or malformed handshake.
	ErrHandshakeUnsuccessful = errors.New("handshake unsuccessful")

	// ErrHandshakeUnsupported is returned by transports without a handshake when it is enabled.
	ErrHandshakeUnsupported = errors.New("handshake is not supported by this transport")

	// ErrReceiveTimeout reports a receive operation exceeding the ReceiveTimeout.
	ErrReceiveTimeout = errors.New("receive timed out")

	// ErrSecureSessionRequirements is returned if a secure session lacks a handshake or a cipher.
	ErrSecureSessionRequirements = errors.New("secure session requires a handshake and encryption")

	// ErrHandshakeRequired is returned when disabling the handshake for a secure session.
	ErrHandshakeRequired = errors.New("handshake cannot be disabled while secure session is enabled")

	// ErrConnected is returned for changes which are not allowed while connected.
	ErrConnected = errors.New("not allowed while connected")

	// ErrClosed is returned for operations on a closed engine.
	ErrClosed = errors.New("engine is closed")
)

// InvalidTransitionError is returned for a forbidden state change.
type InvalidTransitionError struct {
	From, To string
}

func (ite *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", ite.From, ite.To)
}

// PayloadTooLarge creates a wrapped ErrPayloadTooLarge for a size exceeding the limit.
func PayloadTooLarge(size, limit int) error {
	return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, size, limit)
}
