// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockline/pkg/engine"
	"github.com/dtn7/sockline/pkg/handshake"
	"github.com/dtn7/sockline/pkg/transport"
)

// Client connects to a single Server.
//
// This type implements the engine.Client and might be supervised by an engine.Manager.
type Client struct {
	*engine.Lifecycle[engine.ClientState]

	backing backing
	address string
	id      uuid.UUID
	policy  *engine.Policy

	// connectMutex serializes Connect calls.
	connectMutex sync.Mutex

	// mutex guards the session and the cancel function of a running Connect.
	mutex         sync.RWMutex
	session       *session
	cancelConnect context.CancelFunc
}

func newClient(b backing, address string, policy *engine.Policy) *Client {
	if policy == nil {
		policy = engine.NewPolicy()
	} else {
		policy = policy.Clone()
	}

	client := &Client{
		Lifecycle: engine.NewLifecycle(engine.Disconnected, engine.Connected),
		backing:   b,
		address:   address,
		id:        uuid.New(),
		policy:    policy,
	}
	policy.BindConnected(func() bool { return client.Is(engine.Connected) })

	return client
}

func (client *Client) log() *log.Entry {
	return log.WithFields(log.Fields{
		"client": client.Address(),
		"id":     client.id,
	})
}

// Connect to the Server. Failed attempts are repeated after the Policy's retry delay until the maximum number of
// attempts is reached. A rejected handshake is not repeated.
func (client *Client) Connect(ctx context.Context) error {
	client.connectMutex.Lock()
	defer client.connectMutex.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client.mutex.Lock()
	client.cancelConnect = cancel
	client.mutex.Unlock()

	defer func() {
		client.mutex.Lock()
		client.cancelConnect = nil
		client.mutex.Unlock()
	}()

	return engine.ConnectLoop(ctx, client.Lifecycle, client, client.policy, client.attempt)
}

// ConnectAsync runs Connect in the background.
func (client *Client) ConnectAsync(ctx context.Context) <-chan error {
	result := make(chan error, 1)
	go func() { result <- client.Connect(ctx) }()
	return result
}

// attempt to establish one connection, including the handshake.
func (client *Client) attempt(ctx context.Context) error {
	policy := client.policy

	if _, isPort := client.backing.(portBacking); isPort && policy.Handshake() {
		return engine.ErrHandshakeUnsupported
	}

	conn, err := client.backing.dial(ctx, client.address, policy.ConnectTimeout())
	if err != nil {
		return err
	}
	provider := transport.NewProvider[Conn](conn)

	peer, key := uuid.Nil, policy.Passphrase()
	if policy.Handshake() {
		pipeline := policy.Pipeline(key)
		conduit := handshake.NewStreamConduit(
			conn, pipeline, policy.Marker(), handshake.NeedsFraming(policy.PayloadAware(), pipeline))

		state, hsErr := handshake.Run(ctx, conduit, handshake.Configuration{
			ActivePeer: true,
			ID:         client.id,
			Passphrase: key,
			Timeout:    policy.HandshakeTimeout(),
		})
		if hsErr != nil {
			provider.Reset()
			return hsErr
		}

		peer, key = state.PeerID, state.SessionKey
	}

	client.mutex.Lock()
	defer client.mutex.Unlock()

	if _, err := client.Transition(engine.Connected); err != nil {
		provider.Reset()
		return err
	}

	client.session = newSession(provider, newSessionConfig(policy, peer, key), client)
	client.session.start()

	return nil
}

func (client *Client) sessionStarted(s *session) {
	client.log().WithField("peer", s.peer).Info("Connected")
	client.Emit(engine.NewStatus(client, engine.PeerConnected, s.peer))
}

func (client *Client) sessionData(s *session, data []byte) {
	client.Emit(engine.NewDataReceived(client, s.peer, data))
}

func (client *Client) sessionException(s *session, err error) {
	client.Emit(engine.NewErrorStatus(client, engine.Exception, s.peer, err))
}

func (client *Client) sessionReceiveTimeout(s *session) {
	client.Emit(engine.NewErrorStatus(client, engine.ReceiveTimeout, s.peer, engine.ErrReceiveTimeout))
}

func (client *Client) sessionClosed(s *session, err error) {
	client.mutex.Lock()
	if client.session == s {
		client.session = nil
		if _, transErr := client.Transition(engine.Disconnected); transErr != nil {
			client.log().WithError(transErr).Warn("Invalid state on disconnect")
		}
	}
	client.mutex.Unlock()

	client.log().WithError(err).WithField("peer", s.peer).Info("Disconnected")
	client.Emit(engine.NewErrorStatus(client, engine.PeerDisconnected, s.peer, err))
}

// Disconnect the current connection or abort a running Connect.
func (client *Client) Disconnect() error {
	client.mutex.RLock()
	s, cancel := client.session, client.cancelConnect
	client.mutex.RUnlock()

	switch {
	case s != nil:
		s.closeAndWait()
		return nil

	case cancel != nil:
		cancel()
		return nil

	default:
		return engine.ErrNotConnected
	}
}

// SendAsync enqueues a payload. Oversized payloads are rejected immediately.
func (client *Client) SendAsync(data []byte) <-chan error {
	if err := checkPayloadSize(data, client.policy.Marker()); err != nil {
		return errChan(err)
	}

	client.mutex.RLock()
	s := client.session
	client.mutex.RUnlock()

	if s == nil {
		return errChan(engine.ErrNotConnected)
	}
	return s.sendAsync(data)
}

// Send a payload and wait for its transmission.
func (client *Client) Send(data []byte) error {
	return <-client.SendAsync(data)
}

func errChan(err error) <-chan error {
	c := make(chan error, 1)
	c <- err
	return c
}

// Close this Client for good. An established connection is terminated.
func (client *Client) Close() error {
	err := client.Lifecycle.Close(client.policy)

	if disErr := client.Disconnect(); disErr != nil && disErr != engine.ErrNotConnected {
		client.log().WithError(disErr).Warn("Disconnecting on close failed")
	}

	return err
}

// ID exchanged within the handshake.
func (client *Client) ID() uuid.UUID {
	return client.id
}

// Stats of the current connection.
func (client *Client) Stats() transport.Stats {
	client.mutex.RLock()
	defer client.mutex.RUnlock()

	if client.session == nil {
		return transport.Stats{}
	}
	return client.session.stats()
}

// Policy of this Client. Changes apply to the next connection.
func (client *Client) Policy() *engine.Policy {
	return client.policy
}

// Address is the Server's address, prefixed by the protocol.
func (client *Client) Address() string {
	return fmt.Sprintf("%s://%s", client.backing.scheme(), client.address)
}

func (client *Client) String() string {
	return client.Address()
}
