// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dtn7/sockline/pkg/codec"
	"github.com/dtn7/sockline/pkg/engine"
)

// memoryPort returns io.EOF while its input is empty.
type memoryPort struct {
	mutex  sync.Mutex
	input  bytes.Buffer
	output bytes.Buffer
	closed bool
}

func (mp *memoryPort) feed(data []byte) {
	mp.mutex.Lock()
	defer mp.mutex.Unlock()

	mp.input.Write(data)
}

func (mp *memoryPort) written() []byte {
	mp.mutex.Lock()
	defer mp.mutex.Unlock()

	return append([]byte(nil), mp.output.Bytes()...)
}

func (mp *memoryPort) isClosed() bool {
	mp.mutex.Lock()
	defer mp.mutex.Unlock()

	return mp.closed
}

func (mp *memoryPort) Read(p []byte) (int, error) {
	mp.mutex.Lock()
	defer mp.mutex.Unlock()

	if mp.closed {
		return 0, errors.New("port is closed")
	}
	return mp.input.Read(p)
}

func (mp *memoryPort) Write(p []byte) (int, error) {
	mp.mutex.Lock()
	defer mp.mutex.Unlock()

	if mp.closed {
		return 0, errors.New("port is closed")
	}
	return mp.output.Write(p)
}

func (mp *memoryPort) Close() error {
	mp.mutex.Lock()
	defer mp.mutex.Unlock()

	mp.closed = true
	return nil
}

func newPortTestClient(t *testing.T, port *memoryPort, policy *engine.Policy) (*Client, <-chan engine.Status) {
	client := NewPortClient("memory", "test", func(context.Context) (Port, error) {
		return port, nil
	}, policy)
	statuses := collect(client)

	t.Cleanup(func() { _ = client.Close() })
	return client, statuses
}

func TestPortClient(t *testing.T) {
	port := &memoryPort{}
	client, statuses := newPortTestClient(t, port, testPolicy(t, false, ""))

	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	awaitStatus(t, statuses, engine.PeerConnected)

	if addr := client.Address(); addr != "memory://test" {
		t.Fatalf("Address is %s", addr)
	}

	// Idle polls must not terminate the connection.
	time.Sleep(3 * portPollInterval)
	port.feed(codec.AddHeader([]byte("hello"), codec.DefaultMarker))

	if status := awaitStatus(t, statuses, engine.DataReceived); string(status.Data) != "hello" {
		t.Fatalf("Received %q", status.Data)
	}

	if err := client.Send([]byte("world")); err != nil {
		t.Fatal(err)
	}
	if written, expected := port.written(), codec.AddHeader([]byte("world"), codec.DefaultMarker); !bytes.Equal(written, expected) {
		t.Fatalf("Port received %x, expected %x", written, expected)
	}

	if err := client.Disconnect(); err != nil {
		t.Fatal(err)
	}
	awaitStatus(t, statuses, engine.PeerDisconnected)

	if !port.isClosed() {
		t.Fatal("Port was not closed on disconnect")
	}
}

func TestPortClientHandshake(t *testing.T) {
	client, statuses := newPortTestClient(t, &memoryPort{}, testPolicy(t, true, "secret"))

	if err := client.Connect(context.Background()); !errors.Is(err, engine.ErrHandshakeUnsupported) {
		t.Fatalf("Connecting resulted in %v", err)
	}
	awaitStatus(t, statuses, engine.ConnectingException)

	if state := client.State(); state != engine.Disconnected {
		t.Fatalf("Client is %v", state)
	}
}

// failingPort fails on its first read.
type failingPort struct {
	memoryPort
	once sync.Once
}

func (fp *failingPort) Read(p []byte) (n int, err error) {
	err = io.EOF
	fp.once.Do(func() { err = io.ErrClosedPipe })
	if err == io.EOF {
		return fp.memoryPort.Read(p)
	}
	return
}

func TestPortClientReadError(t *testing.T) {
	port := &failingPort{}
	client := NewPortClient("memory", "test", func(context.Context) (Port, error) {
		return port, nil
	}, testPolicy(t, false, ""))
	statuses := collect(client)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	awaitStatus(t, statuses, engine.Exception)
	if status := awaitStatus(t, statuses, engine.PeerDisconnected); status.Err == nil {
		t.Fatal("Disconnected without a cause")
	}
}
