// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockline/pkg/engine"
	"github.com/dtn7/sockline/pkg/handshake"
	"github.com/dtn7/sockline/pkg/transport"
)

// Server accepts multiple Clients, bounded by the Policy's maximum client connections.
//
// This type implements the engine.Server and might be supervised by an engine.Manager.
type Server struct {
	*engine.Lifecycle[engine.ServerState]

	backing       backing
	listenAddress string
	id            uuid.UUID
	policy        *engine.Policy
	registry      *registry

	// mutex guards starting and stopping.
	mutex      sync.Mutex
	listener   listener
	stopSyn    chan struct{}
	stopAck    chan struct{}
	cancel     context.CancelFunc
	handshakes sync.WaitGroup
}

func newServer(b backing, listenAddress string, policy *engine.Policy) *Server {
	if policy == nil {
		policy = engine.NewPolicy()
	} else {
		policy = policy.Clone()
	}

	server := &Server{
		Lifecycle:     engine.NewLifecycle(engine.NotRunning, engine.Running),
		backing:       b,
		listenAddress: listenAddress,
		id:            uuid.New(),
		policy:        policy,
	}
	server.registry = newRegistry(policy.MaxClientConnections)
	policy.BindConnected(func() bool { return server.Is(engine.Running) })

	return server
}

func (server *Server) log() *log.Entry {
	return log.WithFields(log.Fields{
		"server": server.Address(),
		"id":     server.id,
	})
}

// Start listening and accepting Clients.
func (server *Server) Start() error {
	if err := server.start(); err != nil {
		return err
	}

	server.log().WithField("address", server.Addr()).Info("Server started")
	server.Emit(engine.NewStatus(server, engine.ServerStarted, server.id))
	return nil
}

func (server *Server) start() error {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	if server.IsClosed() {
		return engine.ErrClosed
	} else if server.Is(engine.Running) {
		return &engine.InvalidTransitionError{From: engine.Running.String(), To: engine.Running.String()}
	}

	ln, err := server.backing.listen(server.listenAddress)
	if err != nil {
		return err
	}

	if _, err := server.Transition(engine.Running); err != nil {
		_ = ln.close()
		return err
	}

	var ctx context.Context
	ctx, server.cancel = context.WithCancel(context.Background())

	server.listener = ln
	server.stopSyn = make(chan struct{})
	server.stopAck = make(chan struct{})

	go server.acceptLoop(ctx, ln, server.stopSyn, server.stopAck)

	return nil
}

func (server *Server) acceptLoop(ctx context.Context, ln listener, stopSyn, stopAck chan struct{}) {
	for {
		select {
		case <-stopSyn:
			close(stopAck)
			return

		default:
			conn, err := ln.accept()
			switch {
			case err == nil:
				server.handshakes.Add(1)
				go server.handleConn(ctx, conn)

			case errors.Is(err, errAcceptTimeout):

			default:
				server.log().WithError(err).Warn("Accepting a connection failed")
				time.Sleep(acceptTimeout)
			}
		}
	}
}

// handleConn reserves a slot for an accepted connection, negotiates the handshake and registers the client.
func (server *Server) handleConn(ctx context.Context, conn Conn) {
	defer server.handshakes.Done()

	remote := conn.RemoteAddr().String()

	if !server.registry.reserve() {
		_ = conn.Close()

		server.log().WithField("remote", remote).Warn("Rejecting client, capacity reached")
		server.Emit(engine.NewErrorStatus(server, engine.ClientRejected, uuid.Nil, engine.ErrCapacityReached))
		return
	}

	provider := transport.NewProvider[Conn](conn)
	policy := server.policy

	peer, key := uuid.New(), policy.Passphrase()
	if policy.Handshake() {
		pipeline := policy.Pipeline(key)
		conduit := handshake.NewStreamConduit(
			conn, pipeline, policy.Marker(), handshake.NeedsFraming(policy.PayloadAware(), pipeline))

		state, err := handshake.Run(ctx, conduit, handshake.Configuration{
			ActivePeer:    false,
			ID:            server.id,
			Passphrase:    key,
			SecureSession: policy.SecureSession(),
			Timeout:       policy.HandshakeTimeout(),
			Admit:         server.registry.admit,
		})
		if err != nil {
			provider.Reset()
			server.registry.release()
			server.reportHandshakeFailure(remote, err)
			return
		}

		peer, key = state.PeerID, state.SessionKey
	}

	s := newSession(provider, newSessionConfig(policy, peer, key), server)
	if err := server.registry.commit(s); err != nil {
		provider.Reset()
		server.reportHandshakeFailure(remote, fmt.Errorf("%w: %v", engine.ErrHandshakeUnsuccessful, err))
	}
}

func (server *Server) reportHandshakeFailure(remote string, err error) {
	entry := server.log().WithError(err).WithField("remote", remote)

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, handshake.StageClose):
		entry.Debug("Handshake was aborted")

	case errors.Is(err, engine.ErrHandshakeTimeout):
		entry.Warn("Handshake timed out")
		server.Emit(engine.NewErrorStatus(server, engine.HandshakeTimeout, uuid.Nil, err))

	case errors.Is(err, engine.ErrHandshakeUnsuccessful):
		entry.Warn("Handshake was unsuccessful")
		server.Emit(engine.NewErrorStatus(server, engine.HandshakeUnsuccessful, uuid.Nil, err))

	default:
		entry.Warn("Handshake failed")
		server.Emit(engine.NewErrorStatus(server, engine.HandshakeUnsuccessful, uuid.Nil,
			fmt.Errorf("%w: %v", engine.ErrHandshakeUnsuccessful, err)))
	}
}

func (server *Server) sessionStarted(s *session) {
	server.log().WithFields(log.Fields{
		"peer":   s.peer,
		"remote": s.remote,
	}).Info("Client connected")
	server.Emit(engine.NewStatus(server, engine.PeerConnected, s.peer))
}

func (server *Server) sessionData(s *session, data []byte) {
	server.Emit(engine.NewDataReceived(server, s.peer, data))
}

func (server *Server) sessionException(s *session, err error) {
	server.Emit(engine.NewErrorStatus(server, engine.Exception, s.peer, err))
}

func (server *Server) sessionReceiveTimeout(s *session) {
	server.Emit(engine.NewErrorStatus(server, engine.ReceiveTimeout, s.peer, engine.ErrReceiveTimeout))
}

func (server *Server) sessionClosed(s *session, err error) {
	server.registry.remove(s)

	server.log().WithError(err).WithField("peer", s.peer).Info("Client disconnected")
	server.Emit(engine.NewErrorStatus(server, engine.PeerDisconnected, s.peer, err))
}

// Stop listening and disconnect all Clients.
func (server *Server) Stop() error {
	err := server.stop()

	var transErr *engine.InvalidTransitionError
	if errors.As(err, &transErr) {
		return err
	}

	server.log().Info("Server stopped")
	server.Emit(engine.NewStatus(server, engine.ServerStopped, server.id))
	return err
}

func (server *Server) stop() (err error) {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	if _, transErr := server.Transition(engine.NotRunning); transErr != nil {
		return transErr
	}

	close(server.stopSyn)
	<-server.stopAck

	if closeErr := server.listener.close(); closeErr != nil {
		err = multierror.Append(err, closeErr)
	}
	server.listener = nil

	server.cancel()
	server.handshakes.Wait()

	for _, s := range server.registry.all() {
		s.closeAndWait()
	}

	return
}

// Send a payload to a Client and wait for its transmission.
func (server *Server) Send(id uuid.UUID, data []byte) error {
	return <-server.SendAsync(id, data)
}

// SendAsync enqueues a payload for a Client.
func (server *Server) SendAsync(id uuid.UUID, data []byte) <-chan error {
	if err := checkPayloadSize(data, server.policy.Marker()); err != nil {
		return errChan(err)
	}

	s, err := server.registry.get(id)
	if err != nil {
		return errChan(err)
	}
	return s.sendAsync(data)
}

// Broadcast a payload to all Clients. Each failed transmission is part of the returned error.
func (server *Server) Broadcast(data []byte) (err error) {
	if sizeErr := checkPayloadSize(data, server.policy.Marker()); sizeErr != nil {
		return sizeErr
	}

	results := server.registry.each(func(s *session) <-chan error {
		return s.sendAsync(data)
	})

	for id, result := range results {
		if sendErr := <-result; sendErr != nil {
			err = multierror.Append(err, fmt.Errorf("client %v: %w", id, sendErr))
		}
	}
	return
}

// Evict a Client by terminating its connection.
func (server *Server) Evict(id uuid.UUID) error {
	s, err := server.registry.get(id)
	if err != nil {
		return err
	}

	server.log().WithField("peer", id).Info("Evicting client")
	s.closeAndWait()
	return nil
}

// Clients returns all registered Clients, ordered by their connection time.
func (server *Server) Clients() []engine.PeerInfo {
	sessions := server.registry.all()

	infos := make([]engine.PeerInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.info())
	}
	return infos
}

// Close this Server for good.
func (server *Server) Close() (err error) {
	if closeErr := server.Lifecycle.Close(server.policy); closeErr != nil {
		err = multierror.Append(err, closeErr)
	}

	if server.Is(engine.Running) {
		if stopErr := server.stop(); stopErr != nil {
			err = multierror.Append(err, stopErr)
		}
	}
	return
}

// ID exchanged within the handshake.
func (server *Server) ID() uuid.UUID {
	return server.id
}

// Policy of this Server. Changes apply to the next accepted connection.
func (server *Server) Policy() *engine.Policy {
	return server.policy
}

// Addr is the bound address while running, otherwise nil.
func (server *Server) Addr() net.Addr {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	if server.listener == nil {
		return nil
	}
	return server.listener.addr()
}

// Address is the listen address, prefixed by the protocol.
func (server *Server) Address() string {
	return fmt.Sprintf("%s://%s", server.backing.scheme(), server.listenAddress)
}

func (server *Server) String() string {
	return server.Address()
}
