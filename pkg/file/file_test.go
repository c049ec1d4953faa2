// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package file

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dtn7/sockline/pkg/codec"
	"github.com/dtn7/sockline/pkg/connstring"
	"github.com/dtn7/sockline/pkg/engine"
)

func awaitStatus(t *testing.T, c <-chan engine.Status, eventType engine.EventType) engine.Status {
	t.Helper()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case status := <-c:
			if status.Type == eventType {
				return status
			}

		case <-timeout:
			t.Fatalf("Timeout while waiting for %v", eventType)
		}
	}
}

func startClient(t *testing.T, config connstring.File, policy *engine.Policy) (engine.Client, <-chan engine.Status) {
	client := NewClient(config, policy)

	statuses := make(chan engine.Status, 64)
	go func() {
		for status := range client.Channel() {
			statuses <- status
		}
	}()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	awaitStatus(t, statuses, engine.PeerConnected)

	t.Cleanup(func() { _ = client.Close() })
	return client, statuses
}

func TestTailExistingAndAppended(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input")

	if err := os.WriteFile(input, codec.AddHeader([]byte("first"), codec.DefaultMarker), 0644); err != nil {
		t.Fatal(err)
	}

	_, statuses := startClient(t, connstring.File{File: input, Output: filepath.Join(dir, "output")}, nil)

	if status := awaitStatus(t, statuses, engine.DataReceived); string(status.Data) != "first" {
		t.Fatalf("Received %q", status.Data)
	}

	f, err := os.OpenFile(input, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := f.Write(codec.AddHeader([]byte("second"), codec.DefaultMarker)); err != nil {
		t.Fatal(err)
	}

	if status := awaitStatus(t, statuses, engine.DataReceived); string(status.Data) != "second" {
		t.Fatalf("Received %q", status.Data)
	}
}

func TestWriteOutput(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "output")

	client, _ := startClient(t, connstring.File{File: filepath.Join(dir, "input"), Output: output}, nil)

	if err := client.Send([]byte("hello")); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if expected := codec.AddHeader([]byte("hello"), codec.DefaultMarker); !bytes.Equal(data, expected) {
		t.Fatalf("Output is %x, expected %x", data, expected)
	}
}

func TestPairedClients(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a"), filepath.Join(dir, "b")

	clientA, statusesA := startClient(t, connstring.File{File: a, Output: b}, nil)
	clientB, statusesB := startClient(t, connstring.File{File: b, Output: a}, nil)

	if err := clientA.Send([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	if status := awaitStatus(t, statusesB, engine.DataReceived); string(status.Data) != "ping" {
		t.Fatalf("B received %q", status.Data)
	}

	if err := clientB.Send([]byte("pong")); err != nil {
		t.Fatal(err)
	}
	if status := awaitStatus(t, statusesA, engine.DataReceived); string(status.Data) != "pong" {
		t.Fatalf("A received %q", status.Data)
	}
}

func TestLoopback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop")
	client, statuses := startClient(t, connstring.File{File: path}, nil)

	if err := client.Send([]byte("echo")); err != nil {
		t.Fatal(err)
	}
	if status := awaitStatus(t, statuses, engine.DataReceived); string(status.Data) != "echo" {
		t.Fatalf("Received %q", status.Data)
	}
}

func TestHandshakeUnsupported(t *testing.T) {
	policy := engine.NewPolicy()
	if err := policy.SetHandshake(true); err != nil {
		t.Fatal(err)
	}

	client := NewClient(connstring.File{File: filepath.Join(t.TempDir(), "input")}, policy)
	defer client.Close()

	go func() {
		for range client.Channel() {
		}
	}()

	if err := client.Connect(context.Background()); !errors.Is(err, engine.ErrHandshakeUnsupported) {
		t.Fatalf("Connecting resulted in %v", err)
	}
}
