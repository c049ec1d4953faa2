// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package statusapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/dtn7/sockline/pkg/engine"
)

// fakeServer records the operations of the status API.
type fakeServer struct {
	*engine.Lifecycle[engine.ServerState]

	mutex     sync.Mutex
	id        uuid.UUID
	clients   map[uuid.UUID]engine.PeerInfo
	sent      map[uuid.UUID][]byte
	broadcast []byte
}

func newFakeServer(clients ...uuid.UUID) *fakeServer {
	fs := &fakeServer{
		Lifecycle: engine.NewLifecycle(engine.NotRunning, engine.Running),
		id:        uuid.New(),
		clients:   make(map[uuid.UUID]engine.PeerInfo),
		sent:      make(map[uuid.UUID][]byte),
	}
	for _, id := range clients {
		fs.clients[id] = engine.PeerInfo{ID: id, RemoteAddress: "192.0.2.1:1234", ConnectedAt: time.Now()}
	}
	return fs
}

func (fs *fakeServer) Start() error { _, err := fs.Transition(engine.Running); return err }
func (fs *fakeServer) Stop() error  { _, err := fs.Transition(engine.NotRunning); return err }
func (fs *fakeServer) Close() error { return fs.Lifecycle.Close(nil) }

func (fs *fakeServer) Send(id uuid.UUID, data []byte) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if _, ok := fs.clients[id]; !ok {
		return engine.ErrUnknownClient
	}
	fs.sent[id] = data
	return nil
}

func (fs *fakeServer) SendAsync(id uuid.UUID, data []byte) <-chan error {
	c := make(chan error, 1)
	c <- fs.Send(id, data)
	return c
}

func (fs *fakeServer) Broadcast(data []byte) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	fs.broadcast = data
	return nil
}

func (fs *fakeServer) Evict(id uuid.UUID) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if _, ok := fs.clients[id]; !ok {
		return engine.ErrUnknownClient
	}
	delete(fs.clients, id)
	return nil
}

func (fs *fakeServer) Clients() (infos []engine.PeerInfo) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	for _, info := range fs.clients {
		infos = append(infos, info)
	}
	return
}

// received returns the payloads sent to a client and broadcasted.
func (fs *fakeServer) received(id uuid.UUID) (sent, broadcast []byte) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	return fs.sent[id], fs.broadcast
}

func (fs *fakeServer) ID() uuid.UUID          { return fs.id }
func (fs *fakeServer) Policy() *engine.Policy { return engine.NewPolicy() }
func (fs *fakeServer) Address() string        { return "fake://" + fs.id.String() }
func (fs *fakeServer) String() string         { return fs.Address() }

type fakeSource struct {
	servers []engine.Server
}

func (src *fakeSource) Servers() []engine.Server { return src.servers }
func (src *fakeSource) Clients() []engine.Client { return nil }

func startAPI(t *testing.T, servers ...engine.Server) (*API, *httptest.Server) {
	r := mux.NewRouter()
	api := NewAPI(r.PathPrefix("/api").Subrouter(), &fakeSource{servers: servers})

	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		api.Close()
		ts.Close()
	})
	return api, ts
}

func TestStatus(t *testing.T) {
	server := newFakeServer(uuid.New(), uuid.New())
	if err := server.Start(); err != nil {
		t.Fatal(err)
	}
	_, ts := startAPI(t, server)

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}

	if len(status.Servers) != 1 {
		t.Fatalf("Status lists %d servers", len(status.Servers))
	}
	if s := status.Servers[0]; s.ID != server.ID() || s.Clients != 2 || s.State != engine.Running.String() {
		t.Fatalf("Server status is %v", s)
	}
	if len(status.Clients) != 0 {
		t.Fatalf("Status lists %d clients", len(status.Clients))
	}
}

func TestClientsEvictSend(t *testing.T) {
	id := uuid.New()
	server := newFakeServer(id)
	_, ts := startAPI(t, server)

	resp, err := http.Get(ts.URL + "/api/clients")
	if err != nil {
		t.Fatal(err)
	}
	var clients []ClientInfo
	if err := json.NewDecoder(resp.Body).Decode(&clients); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if len(clients) != 1 || clients[0].ID != id || clients[0].Server != server.Address() {
		t.Fatalf("Clients are %v", clients)
	}

	resp, err = http.Post(fmt.Sprintf("%s/api/clients/%v", ts.URL, id), "application/octet-stream",
		strings.NewReader("hello"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Sending resulted in %d", resp.StatusCode)
	} else if sent, _ := server.received(id); string(sent) != "hello" {
		t.Fatalf("Server sent %q", sent)
	}

	tests := []struct {
		id   string
		code int
	}{
		{id.String(), http.StatusOK},
		{id.String(), http.StatusNotFound},
		{"not-an-id", http.StatusBadRequest},
	}
	for _, test := range tests {
		req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/clients/%s", ts.URL, test.id), nil)
		if err != nil {
			t.Fatal(err)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		if resp.StatusCode != test.code {
			t.Fatalf("Evicting %s resulted in %d, expected %d", test.id, resp.StatusCode, test.code)
		}
	}
}

func TestBroadcast(t *testing.T) {
	servers := []*fakeServer{newFakeServer(), newFakeServer()}
	_, ts := startAPI(t, servers[0], servers[1])

	resp, err := http.Post(ts.URL+"/api/broadcast", "application/octet-stream", bytes.NewReader([]byte("all")))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var br BroadcastResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		t.Fatal(err)
	} else if br.Error != "" || br.Servers != 2 {
		t.Fatalf("Broadcast response is %v", br)
	}

	for i, server := range servers {
		if _, broadcast := server.received(uuid.Nil); string(broadcast) != "all" {
			t.Fatalf("Server %d broadcasted %q", i, broadcast)
		}
	}
}

func TestWebSocketEvents(t *testing.T) {
	server := newFakeServer()
	api, ts := startAPI(t, server)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for api.Subscribers() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("Subscriber was not registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	peer := uuid.New()
	api.Publish(engine.NewDataReceived(server, peer, []byte("payload")))
	api.Publish(engine.NewErrorStatus(server, engine.PeerDisconnected, peer, errors.New("gone")))

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}

	var event Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatal(err)
	} else if event.Type != engine.DataReceived.String() || string(event.Data) != "payload" || event.Peer != peer {
		t.Fatalf("First event is %v", event)
	} else if event.Sender != server.Address() {
		t.Fatalf("Event's sender is %s", event.Sender)
	}

	if err := conn.ReadJSON(&event); err != nil {
		t.Fatal(err)
	} else if event.Type != engine.PeerDisconnected.String() || event.Error != "gone" {
		t.Fatalf("Second event is %v", event)
	}

	api.Close()
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("Subscription survived closing the API")
	}
}

var _ engine.Server = (*fakeServer)(nil)
