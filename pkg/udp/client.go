// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockline/pkg/connstring"
	"github.com/dtn7/sockline/pkg/engine"
	"github.com/dtn7/sockline/pkg/handshake"
	"github.com/dtn7/sockline/pkg/msgs"
	"github.com/dtn7/sockline/pkg/transport"
)

// clientConduit exchanges the handshake's blocks as datagrams with the Server.
type clientConduit struct {
	conn *net.UDPConn
	cc   codecConfig
}

func (cc *clientConduit) WriteBlock(data []byte) error {
	datagram, err := cc.cc.encode(data)
	if err != nil {
		return err
	}

	_, err = cc.conn.Write(datagram)
	return err
}

func (cc *clientConduit) ReadBlock() ([]byte, error) {
	buf := make([]byte, MaxDatagramSize)
	n, err := cc.conn.Read(buf)
	if err != nil {
		return nil, err
	}

	if _, ok := parseGoodbye(buf[:n]); ok {
		return nil, fmt.Errorf("%w: server said goodbye", engine.ErrHandshakeUnsuccessful)
	}
	return cc.cc.decode(buf[:n])
}

// association is a Client's current binding to its Server.
type association struct {
	provider *transport.Provider[*net.UDPConn]
	cc       codecConfig
	peer     uuid.UUID

	sendMutex sync.Mutex
	timedOut  uint32

	stopSyn  chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (a *association) close() {
	a.stopOnce.Do(func() {
		close(a.stopSyn)
		a.provider.Reset()
	})
}

func (a *association) isStopped() bool {
	select {
	case <-a.stopSyn:
		return true
	default:
		return false
	}
}

// Client of a UDP Server. Without a handshake, the Client is connected as soon as its socket is bound.
//
// This type implements the engine.Client and might be supervised by an engine.Manager.
type Client struct {
	*engine.Lifecycle[engine.ClientState]

	config connstring.UDP
	id     uuid.UUID
	policy *engine.Policy

	connectMutex sync.Mutex

	mutex         sync.RWMutex
	association   *association
	cancelConnect context.CancelFunc
}

// NewClient for a Server's address. The Policy is cloned; a nil Policy results in the defaults.
func NewClient(config connstring.UDP, policy *engine.Policy) (*Client, error) {
	if err := config.RequireServer(); err != nil {
		return nil, err
	}

	if policy == nil {
		policy = engine.NewPolicy()
	} else {
		policy = policy.Clone()
	}

	client := &Client{
		Lifecycle: engine.NewLifecycle(engine.Disconnected, engine.Connected),
		config:    config,
		id:        uuid.New(),
		policy:    policy,
	}
	policy.BindConnected(func() bool { return client.Is(engine.Connected) })

	return client, nil
}

func (client *Client) log() *log.Entry {
	return log.WithFields(log.Fields{
		"client": client.Address(),
		"id":     client.id,
	})
}

// Connect to the Server, with retries according to the Policy.
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

func (client *Client) attempt(ctx context.Context) error {
	policy := client.policy

	raddr, err := net.ResolveUDPAddr("udp", client.config.Server)
	if err != nil {
		return err
	}

	var laddr *net.UDPAddr
	if client.config.LocalPort != 0 {
		laddr = &net.UDPAddr{Port: client.config.LocalPort}
	}

	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return err
	}
	provider := transport.NewProvider(conn)

	peer, key := uuid.Nil, policy.Passphrase()
	if policy.Handshake() {
		conduit := &clientConduit{conn: conn, cc: handshakeCodec(policy)}

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

	a := &association{
		provider: provider,
		cc:       newCodecConfig(policy, key),
		peer:     peer,
		stopSyn:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	client.mutex.Lock()
	defer client.mutex.Unlock()

	if _, err := client.Transition(engine.Connected); err != nil {
		provider.Reset()
		return err
	}

	provider.ResetStats()
	client.association = a
	go client.receive(a)

	return nil
}

func (client *Client) receive(a *association) {
	var cause error
	defer func() {
		a.close()

		client.mutex.Lock()
		if client.association == a {
			client.association = nil
			if _, err := client.Transition(engine.Disconnected); err != nil {
				client.log().WithError(err).Warn("Invalid state on disconnect")
			}
		}
		client.mutex.Unlock()

		client.log().WithError(cause).Info("Disconnected")
		client.Emit(engine.NewErrorStatus(client, engine.PeerDisconnected, a.peer, cause))
		close(a.done)
	}()

	client.log().WithField("peer", a.peer).Info("Connected")
	client.Emit(engine.NewStatus(client, engine.PeerConnected, a.peer))

	buf := make([]byte, MaxDatagramSize)
	resumed := false

	for {
		n, err := transport.ReadWithTimeout(a.provider, buf, a.cc.receiveTimeout, func() {
			atomic.StoreUint32(&a.timedOut, 1)
			a.provider.Reset()
		})

		switch {
		case err == nil:
			resumed = false

			if id, ok := parseGoodbye(buf[:n]); ok {
				client.log().WithField("peer", id).Info("Server said goodbye")
				return
			}

			data, decErr := a.cc.decode(buf[:n])
			if decErr != nil {
				client.log().WithError(decErr).Warn("Dropping unprocessable datagram")
				client.Emit(engine.NewErrorStatus(client, engine.Exception, a.peer, decErr))
				continue
			}
			client.Emit(engine.NewDataReceived(client, a.peer, append([]byte(nil), data...)))

		case atomic.LoadUint32(&a.timedOut) == 1:
			client.Emit(engine.NewErrorStatus(client, engine.ReceiveTimeout, a.peer, engine.ErrReceiveTimeout))
			cause = engine.ErrReceiveTimeout
			return

		case a.isStopped(), errors.Is(err, transport.ErrStale):
			return

		case !resumed:
			client.log().WithError(err).Warn("Receiving failed, resuming")
			client.Emit(engine.NewErrorStatus(client, engine.Exception, a.peer, err))
			resumed = true

		default:
			cause = fmt.Errorf("receiving failed: %w", err)
			return
		}
	}
}

// Disconnect from the Server, announced by a GoodbyeMessage, or abort a running Connect.
func (client *Client) Disconnect() error {
	client.mutex.RLock()
	a, cancel := client.association, client.cancelConnect
	client.mutex.RUnlock()

	switch {
	case a != nil:
		a.sendMutex.Lock()
		if _, err := a.provider.Conn().Write(goodbye(client.id)); err != nil {
			client.log().WithError(err).Debug("Sending goodbye failed")
		}
		a.sendMutex.Unlock()

		a.close()
		<-a.done
		return nil

	case cancel != nil:
		cancel()
		return nil

	default:
		return engine.ErrNotConnected
	}
}

// SendAsync transmits a payload as one datagram. The result is available immediately.
func (client *Client) SendAsync(data []byte) <-chan error {
	result := make(chan error, 1)
	result <- client.send(data)
	return result
}

// Send a payload as one datagram.
func (client *Client) Send(data []byte) error {
	return client.send(data)
}

func (client *Client) send(data []byte) error {
	if len(data) > MaxDatagramSize {
		return engine.PayloadTooLarge(len(data), MaxDatagramSize)
	}

	client.mutex.RLock()
	a := client.association
	client.mutex.RUnlock()

	if a == nil {
		return engine.ErrNotConnected
	}

	datagram, err := a.cc.encode(data)
	if err != nil {
		return err
	}
	if len(datagram) == msgs.GoodbyeSize && msgs.IsGoodbye(datagram) {
		return fmt.Errorf("%w: payload is indistinguishable from a goodbye", ErrMalformedDatagram)
	}

	a.sendMutex.Lock()
	defer a.sendMutex.Unlock()

	pending := a.provider.WaitAsync(0, nil)
	n, err := a.provider.Conn().Write(datagram)
	if !a.provider.CompleteSend(pending, n) && err == nil {
		err = engine.ErrNotConnected
	}
	return err
}

// Close this Client for good, saying goodbye if connected.
func (client *Client) Close() error {
	err := client.Lifecycle.Close(client.policy)

	if disErr := client.Disconnect(); disErr != nil && disErr != engine.ErrNotConnected {
		client.log().WithError(disErr).Warn("Disconnecting on close failed")
	}
	return err
}

// ID exchanged within the handshake and the GoodbyeMessage.
func (client *Client) ID() uuid.UUID {
	return client.id
}

// Stats of the current association.
func (client *Client) Stats() transport.Stats {
	client.mutex.RLock()
	defer client.mutex.RUnlock()

	if client.association == nil {
		return transport.Stats{}
	}
	return client.association.provider.Stats()
}

func (client *Client) Policy() *engine.Policy {
	return client.policy
}

// Address is the Server's address, prefixed by the protocol.
func (client *Client) Address() string {
	return fmt.Sprintf("udp://%s", client.config.Server)
}

func (client *Client) String() string {
	return client.Address()
}
