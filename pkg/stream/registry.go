// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stream

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/dtn7/sockline/pkg/engine"
)

// registry of a Server's clients. A slot is reserved for each accepted connection before its handshake, so that
// established and negotiating connections together never exceed the capacity.
type registry struct {
	mutex    sync.Mutex
	capacity func() int
	reserved int
	sessions map[uuid.UUID]*session
}

func newRegistry(capacity func() int) *registry {
	return &registry{
		capacity: capacity,
		sessions: make(map[uuid.UUID]*session),
	}
}

// reserve a slot for a new connection. False is returned if the registry is at its capacity.
func (r *registry) reserve() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if len(r.sessions)+r.reserved >= r.capacity() {
		return false
	}
	r.reserved++
	return true
}

// release a reserved slot of a failed connection.
func (r *registry) release() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.reserved--
}

// admit checks if an identity is not already registered.
func (r *registry) admit(id uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.sessions[id]; exists {
		return fmt.Errorf("client %v is already connected", id)
	}
	return nil
}

// commit a session into its reserved slot and start it. A rejected session is not started.
func (r *registry) commit(s *session) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.reserved--

	if _, exists := r.sessions[s.peer]; exists {
		return fmt.Errorf("client %v is already connected", s.peer)
	}
	r.sessions[s.peer] = s
	s.start()
	return nil
}

// remove a session, if it is still registered.
func (r *registry) remove(s *session) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.sessions[s.peer] != s {
		return false
	}
	delete(r.sessions, s.peer)
	return true
}

func (r *registry) get(id uuid.UUID) (*session, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", engine.ErrUnknownClient, id)
	}
	return s, nil
}

func (r *registry) len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return len(r.sessions)
}

// all sessions, ordered by their connection time.
func (r *registry) all() []*session {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].connectedAt.Before(sessions[j].connectedAt)
	})
	return sessions
}

// each enqueues a payload for all sessions while holding the lock.
func (r *registry) each(f func(s *session) <-chan error) map[uuid.UUID]<-chan error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	results := make(map[uuid.UUID]<-chan error, len(r.sessions))
	for id, s := range r.sessions {
		results[id] = f(s)
	}
	return results
}
