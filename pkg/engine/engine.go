// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dtn7/sockline/pkg/transport"
)

// Engine is the part common to both clients and servers.
type Engine interface {
	// Channel for outgoing Status messages. It must always be read and is closed by Close.
	Channel() <-chan Status

	// Close the Engine for good. It cannot be used afterwards.
	Close() error

	// Address is a unique representation of this Engine, e.g., its connection string.
	Address() string

	String() string
}

// Client connects to a single remote server.
type Client interface {
	Engine

	// Connect blocks until the Client is Connected or all connection attempts have failed.
	Connect(ctx context.Context) error

	// ConnectAsync starts connecting in the background. The returned channel receives Connect's result.
	ConnectAsync(ctx context.Context) <-chan error

	// Disconnect an established connection. The Client might be connected again afterwards.
	Disconnect() error

	// Send blocks until the payload was transmitted. Concurrent calls are serialized.
	Send(data []byte) error

	// SendAsync enqueues a payload. The returned channel receives the transmission's result.
	SendAsync(data []byte) <-chan error

	State() ClientState

	// ID of this Client, exchanged within the handshake.
	ID() uuid.UUID

	// Stats of the current connection.
	Stats() transport.Stats

	// Duration of the current or of the last connection.
	Duration() time.Duration

	Policy() *Policy
}

// Server accepts multiple clients.
type Server interface {
	Engine

	// Start listening. A started Server might be stopped and started again.
	Start() error

	// Stop listening and disconnect all clients.
	Stop() error

	// Send a payload to a registered client.
	Send(id uuid.UUID, data []byte) error

	// SendAsync is the asynchronous version of Send.
	SendAsync(id uuid.UUID, data []byte) <-chan error

	// Broadcast a payload to all registered clients.
	Broadcast(data []byte) error

	// Evict a registered client by terminating its connection.
	Evict(id uuid.UUID) error

	// Clients returns information about all registered clients.
	Clients() []PeerInfo

	State() ServerState

	// ID of this Server, exchanged within the handshake.
	ID() uuid.UUID

	// Duration of the current or of the last run.
	Duration() time.Duration

	Policy() *Policy
}

// PeerInfo describes a client registered at a Server.
type PeerInfo struct {
	ID            uuid.UUID       `json:"id"`
	RemoteAddress string          `json:"remote_address"`
	ConnectedAt   time.Time       `json:"connected_at"`
	Stats         transport.Stats `json:"stats"`
}

// SettingsStore persists named categories of string values.
type SettingsStore interface {
	// Load the values of a category. An unknown category results in an empty map.
	Load(category string) (map[string]string, error)

	// Save the values of a category, replacing former values.
	Save(category string, values map[string]string) error
}
