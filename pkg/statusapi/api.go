// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package statusapi exposes supervised engines over HTTP: a JSON REST interface to inspect, evict and address
// clients, and a WebSocket stream of all Status events.
package statusapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockline/pkg/codec"
	"github.com/dtn7/sockline/pkg/engine"
)

// Source lists the engines to be inspected, e.g., an engine.Manager.
type Source interface {
	Servers() []engine.Server
	Clients() []engine.Client
}

// API serves the REST and WebSocket routes.
type API struct {
	router *mux.Router
	source Source

	upgrader websocket.Upgrader

	mutex       sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool
}

// NewAPI registers its routes on the router, which might be a subrouter, e.g., for "/api".
func NewAPI(router *mux.Router, source Source) *API {
	api := &API{
		router:      router,
		source:      source,
		subscribers: make(map[*subscriber]struct{}),
	}

	api.router.HandleFunc("/status", api.handleStatus).Methods(http.MethodGet)
	api.router.HandleFunc("/clients", api.handleClients).Methods(http.MethodGet)
	api.router.HandleFunc("/clients/{id}", api.handleEvict).Methods(http.MethodDelete)
	api.router.HandleFunc("/clients/{id}", api.handleSend).Methods(http.MethodPost)
	api.router.HandleFunc("/broadcast", api.handleBroadcast).Methods(http.MethodPost)
	api.router.HandleFunc("/ws", api.handleWebSocket).Methods(http.MethodGet)

	return api
}

// ServeHTTP is a http.Handler to be bound to a HTTP server.
func (api *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	api.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write status API response")
	}
}

// handleStatus processes GET /status requests.
func (api *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Servers: []EngineStatus{},
		Clients: []EngineStatus{},
	}

	for _, server := range api.source.Servers() {
		resp.Servers = append(resp.Servers, EngineStatus{
			Address:  server.Address(),
			ID:       server.ID(),
			Kind:     "server",
			State:    server.State().String(),
			Duration: server.Duration().String(),
			Clients:  len(server.Clients()),
		})
	}
	for _, client := range api.source.Clients() {
		resp.Clients = append(resp.Clients, EngineStatus{
			Address:  client.Address(),
			ID:       client.ID(),
			Kind:     "client",
			State:    client.State().String(),
			Duration: client.Duration().String(),
			Stats:    client.Stats(),
		})
	}

	sort.Slice(resp.Servers, func(i, j int) bool { return resp.Servers[i].Address < resp.Servers[j].Address })
	sort.Slice(resp.Clients, func(i, j int) bool { return resp.Clients[i].Address < resp.Clients[j].Address })

	writeJSON(w, http.StatusOK, resp)
}

// handleClients processes GET /clients requests.
func (api *API) handleClients(w http.ResponseWriter, _ *http.Request) {
	clients := []ClientInfo{}
	for _, server := range api.source.Servers() {
		for _, info := range server.Clients() {
			clients = append(clients, ClientInfo{PeerInfo: info, Server: server.Address()})
		}
	}

	writeJSON(w, http.StatusOK, clients)
}

// lookup the server of a client, identified by the request's id variable.
func (api *API) lookup(r *http.Request) (engine.Server, uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("invalid client id: %w", err)
	}

	for _, server := range api.source.Servers() {
		for _, info := range server.Clients() {
			if info.ID == id {
				return server, id, nil
			}
		}
	}
	return nil, id, fmt.Errorf("%w: %v", engine.ErrUnknownClient, id)
}

func errorCode(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownClient):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadRequest
	}
}

// handleEvict processes DELETE /clients/{id} requests.
func (api *API) handleEvict(w http.ResponseWriter, r *http.Request) {
	server, id, err := api.lookup(r)
	if err == nil {
		err = server.Evict(id)
	}

	if err != nil {
		writeJSON(w, errorCode(err), Response{Error: err.Error()})
		return
	}

	log.WithFields(log.Fields{
		"server": server,
		"peer":   id,
	}).Info("Status API evicted client")
	writeJSON(w, http.StatusOK, Response{})
}

// readPayload reads a request's body, limited to the largest payload.
func readPayload(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, codec.MaxPayloadSize+1))
	if err != nil {
		return nil, err
	} else if len(data) > codec.MaxPayloadSize {
		return nil, engine.PayloadTooLarge(len(data), codec.MaxPayloadSize)
	}
	return data, nil
}

// handleSend processes POST /clients/{id} requests. The body is sent as the payload.
func (api *API) handleSend(w http.ResponseWriter, r *http.Request) {
	server, id, err := api.lookup(r)
	if err != nil {
		writeJSON(w, errorCode(err), Response{Error: err.Error()})
		return
	}

	data, err := readPayload(r)
	if err == nil {
		err = server.Send(id, data)
	}

	if err != nil {
		writeJSON(w, errorCode(err), Response{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Response{})
}

// handleBroadcast processes POST /broadcast requests. The body is sent to all clients of all servers.
func (api *API) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	data, err := readPayload(r)
	if err != nil {
		writeJSON(w, errorCode(err), BroadcastResponse{Response: Response{Error: err.Error()}})
		return
	}

	var errs error
	servers := api.source.Servers()
	for _, server := range servers {
		if bErr := server.Broadcast(data); bErr != nil {
			errs = multierror.Append(errs, fmt.Errorf("%v: %w", server, bErr))
		}
	}

	resp := BroadcastResponse{Servers: len(servers)}
	code := http.StatusOK
	if errs != nil {
		resp.Error = errs.Error()
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, resp)
}

// handleWebSocket processes GET /ws requests by subscribing to all Status events.
func (api *API) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, connErr := api.upgrader.Upgrade(w, r, nil)
	if connErr != nil {
		log.WithError(connErr).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	sub := newSubscriber(conn)

	api.mutex.Lock()
	if api.closed {
		api.mutex.Unlock()
		sub.shutdown()
		return
	}
	api.subscribers[sub] = struct{}{}
	api.mutex.Unlock()

	log.WithField("subscriber", conn.RemoteAddr()).Debug("Status API subscriber connected")

	sub.start()

	api.mutex.Lock()
	delete(api.subscribers, sub)
	api.mutex.Unlock()
}

// Publish a Status to all WebSocket subscribers. Slow subscribers miss Events instead of blocking.
func (api *API) Publish(status engine.Status) {
	event := newEvent(status)

	api.mutex.Lock()
	defer api.mutex.Unlock()

	for sub := range api.subscribers {
		sub.offer(event)
	}
}

// Subscribers is the amount of connected WebSocket subscribers.
func (api *API) Subscribers() int {
	api.mutex.Lock()
	defer api.mutex.Unlock()

	return len(api.subscribers)
}

// Close all WebSocket subscriptions. Further subscriptions are refused.
func (api *API) Close() {
	api.mutex.Lock()
	defer api.mutex.Unlock()

	api.closed = true
	for sub := range api.subscribers {
		sub.shutdown()
	}
}
