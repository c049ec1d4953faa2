// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package statusapi

import (
	"github.com/google/uuid"

	"github.com/dtn7/sockline/pkg/engine"
	"github.com/dtn7/sockline/pkg/transport"
)

// EngineStatus describes a supervised engine for GET /status.
type EngineStatus struct {
	Address  string          `json:"address"`
	ID       uuid.UUID       `json:"id"`
	Kind     string          `json:"kind"`
	State    string          `json:"state"`
	Duration string          `json:"duration"`
	Clients  int             `json:"clients,omitempty"`
	Stats    transport.Stats `json:"stats"`
}

// StatusResponse is the answer to GET /status.
type StatusResponse struct {
	Servers []EngineStatus `json:"servers"`
	Clients []EngineStatus `json:"clients"`
}

// ClientInfo is a client registered at a server, as listed by GET /clients.
type ClientInfo struct {
	engine.PeerInfo
	Server string `json:"server"`
}

// Response acknowledges a modifying request. An empty Error indicates success.
type Response struct {
	Error string `json:"error,omitempty"`
}

// BroadcastResponse reports the amount of servers a broadcast was passed to.
type BroadcastResponse struct {
	Response
	Servers int `json:"servers"`
}

// Event is a Status as sent to WebSocket subscribers of GET /ws.
type Event struct {
	Sender  string    `json:"sender"`
	Type    string    `json:"type"`
	Peer    uuid.UUID `json:"peer"`
	Data    []byte    `json:"data,omitempty"`
	Error   string    `json:"error,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
}

func newEvent(status engine.Status) Event {
	e := Event{
		Type:    status.Type.String(),
		Peer:    status.Peer,
		Data:    status.Data,
		Attempt: status.Attempt,
	}
	if status.Sender != nil {
		e.Sender = status.Sender.Address()
	}
	if status.Err != nil {
		e.Error = status.Err.Error()
	}
	return e
}
