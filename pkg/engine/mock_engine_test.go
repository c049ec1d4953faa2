// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dtn7/sockline/pkg/transport"
)

// mockClient mocks a Client where all fields are directly editable.
type mockClient struct {
	*Lifecycle[ClientState]

	// connectErr is returned by Connect, if set.
	connectErr error
	mutex      sync.Mutex

	connects int32

	address string
	id      uuid.UUID
	policy  *Policy
}

func newMockClient(address string, connectErr error) *mockClient {
	return &mockClient{
		Lifecycle:  NewLifecycle(Disconnected, Connected),
		connectErr: connectErr,
		address:    address,
		id:         uuid.New(),
		policy:     NewPolicy(),
	}
}

func (m *mockClient) setConnectErr(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.connectErr = err
}

func (m *mockClient) Connect(_ context.Context) error {
	atomic.AddInt32(&m.connects, 1)

	m.mutex.Lock()
	err := m.connectErr
	m.mutex.Unlock()

	if _, tErr := m.Transition(Connecting); tErr != nil {
		return tErr
	}
	if err != nil {
		_, _ = m.Transition(Disconnected)
		return err
	}

	if _, tErr := m.Transition(Connected); tErr != nil {
		return tErr
	}
	m.Emit(NewStatus(m, PeerConnected, m.id))
	return nil
}

func (m *mockClient) ConnectAsync(ctx context.Context) <-chan error {
	errChan := make(chan error, 1)
	go func() { errChan <- m.Connect(ctx) }()
	return errChan
}

func (m *mockClient) Disconnect() error {
	if _, err := m.Transition(Disconnected); err != nil {
		return err
	}
	m.Emit(NewStatus(m, PeerDisconnected, m.id))
	return nil
}

func (m *mockClient) Send(_ []byte) error { return nil }

func (m *mockClient) SendAsync(_ []byte) <-chan error {
	errChan := make(chan error, 1)
	errChan <- nil
	return errChan
}

func (m *mockClient) Close() error { return m.Lifecycle.Close(m.policy) }

func (m *mockClient) ID() uuid.UUID { return m.id }

func (m *mockClient) Stats() transport.Stats { return transport.Stats{} }

func (m *mockClient) Policy() *Policy { return m.policy }

func (m *mockClient) Address() string { return m.address }

func (m *mockClient) String() string { return fmt.Sprintf("mock://%s", m.address) }

// mockServer mocks a Server which can always be started.
type mockServer struct {
	*Lifecycle[ServerState]

	address string
	id      uuid.UUID
	policy  *Policy
}

func newMockServer(address string) *mockServer {
	return &mockServer{
		Lifecycle: NewLifecycle(NotRunning, Running),
		address:   address,
		id:        uuid.New(),
		policy:    NewPolicy(),
	}
}

func (m *mockServer) Start() error {
	_, err := m.Transition(Running)
	return err
}

func (m *mockServer) Stop() error {
	_, err := m.Transition(NotRunning)
	return err
}

func (m *mockServer) Send(_ uuid.UUID, _ []byte) error { return ErrUnknownClient }

func (m *mockServer) SendAsync(_ uuid.UUID, _ []byte) <-chan error {
	errChan := make(chan error, 1)
	errChan <- ErrUnknownClient
	return errChan
}

func (m *mockServer) Broadcast(_ []byte) error { return nil }

func (m *mockServer) Evict(_ uuid.UUID) error { return ErrUnknownClient }

func (m *mockServer) Clients() []PeerInfo { return nil }

func (m *mockServer) Close() error { return m.Lifecycle.Close(m.policy) }

func (m *mockServer) ID() uuid.UUID { return m.id }

func (m *mockServer) Policy() *Policy { return m.policy }

func (m *mockServer) Address() string { return m.address }

func (m *mockServer) String() string { return fmt.Sprintf("mock-server://%s", m.address) }

// waitFor polls the condition until it holds or the timeout expires.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

// memoryStore is a minimal SettingsStore.
type memoryStore struct {
	mutex sync.Mutex
	data  map[string]map[string]string
}

func (ms *memoryStore) Load(category string) (map[string]string, error) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	values := make(map[string]string)
	for k, v := range ms.data[category] {
		values[k] = v
	}
	return values, nil
}

func (ms *memoryStore) Save(category string, values map[string]string) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	if ms.data == nil {
		ms.data = make(map[string]map[string]string)
	}
	ms.data[category] = values
	return nil
}
