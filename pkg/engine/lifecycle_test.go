// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestClientStateTransitions(t *testing.T) {
	tests := []struct {
		from, to ClientState
		allowed  bool
	}{
		{Disconnected, Connecting, true},
		{Disconnected, Connected, false},
		{Connecting, Connecting, true},
		{Connecting, Connected, true},
		{Connecting, Disconnected, true},
		{Connected, Disconnected, true},
		{Connected, Connecting, false},
	}

	for _, test := range tests {
		if allowed := test.from.CanTransition(test.to); allowed != test.allowed {
			t.Fatalf("Transition %v -> %v: allowed is %t", test.from, test.to, allowed)
		}
	}
}

func TestServerStateTransitions(t *testing.T) {
	if !NotRunning.CanTransition(Running) || !Running.CanTransition(NotRunning) {
		t.Fatal("Start and stop must be allowed")
	}
	if Running.CanTransition(Running) || NotRunning.CanTransition(NotRunning) {
		t.Fatal("Self transitions must not be allowed")
	}
}

func TestLifecycleDuration(t *testing.T) {
	lc := NewLifecycle(Disconnected, Connected)

	if d := lc.Duration(); d != 0 {
		t.Fatalf("Duration before connecting is %v", d)
	}

	var ite *InvalidTransitionError
	if _, err := lc.Transition(Connected); !errors.As(err, &ite) {
		t.Fatalf("Invalid transition resulted in %v", err)
	}

	_, _ = lc.Transition(Connecting)
	if _, err := lc.Transition(Connected); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)

	if from, err := lc.Transition(Disconnected); err != nil || from != Connected {
		t.Fatalf("Disconnecting returned %v, %v", from, err)
	}

	d := lc.Duration()
	if d < 50*time.Millisecond || d > time.Second {
		t.Fatalf("Connection duration is %v", d)
	}

	time.Sleep(20 * time.Millisecond)
	if d2 := lc.Duration(); d2 != d {
		t.Fatalf("Duration changed while disconnected: %v != %v", d2, d)
	}

	if lc.InactiveSince().Before(lc.ActiveSince()) {
		t.Fatal("Disconnect timestamp precedes the connect timestamp")
	}
}

func TestLifecycleEmitClose(t *testing.T) {
	lc := NewLifecycle(NotRunning, Running)

	if !lc.Emit(NewStatus(nil, ServerStarted, uuid.Nil)) {
		t.Fatal("Emitting into the buffered channel failed")
	}

	status := <-lc.Channel()
	if status.Type != ServerStarted {
		t.Fatalf("Received %v", status)
	}

	// Fill the buffer, the next Emit blocks until Close.
	for i := 0; i < reportChanSize; i++ {
		lc.Emit(NewStatus(nil, Exception, uuid.Nil))
	}

	emitted := make(chan bool)
	go func() { emitted <- lc.Emit(NewStatus(nil, Exception, uuid.Nil)) }()

	time.Sleep(20 * time.Millisecond)
	if err := lc.Close(nil); err != nil {
		t.Fatal(err)
	}

	select {
	case ok := <-emitted:
		if ok {
			t.Fatal("Blocked Emit reported success after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Emit is still blocked after Close")
	}

	if lc.Emit(NewStatus(nil, Exception, uuid.Nil)) {
		t.Fatal("Emit after Close reported success")
	}
	if !lc.IsClosed() {
		t.Fatal("Lifecycle is not closed")
	}
}

func TestLifecycleSettings(t *testing.T) {
	store := &memoryStore{}

	p := NewPolicy()
	_ = p.SetPassphrase("persisted")

	lc := NewLifecycle(Disconnected, Connected)
	if err := lc.Initialize(store, "tcp-client", p); err != nil {
		t.Fatal(err)
	}
	if err := lc.Close(p); err != nil {
		t.Fatal(err)
	}

	q := NewPolicy()
	if err := NewLifecycle(Disconnected, Connected).Initialize(store, "tcp-client", q); err != nil {
		t.Fatal(err)
	}
	if pass := q.Passphrase(); pass != "persisted" {
		t.Fatalf("Loaded passphrase is %q", pass)
	}
}
