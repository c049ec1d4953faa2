// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/sockline/pkg/connstring"
	"github.com/dtn7/sockline/pkg/engine"
	"github.com/dtn7/sockline/pkg/handshake"
	"github.com/dtn7/sockline/pkg/transport"
)

// inboxSize is the number of datagrams buffered for each peer.
const inboxSize = 256

// peerConn addresses one peer through the Server's socket. Closing it says goodbye, unless the peer left first.
type peerConn struct {
	conn     *net.UDPConn
	addr     *net.UDPAddr
	serverID uuid.UUID
	quiet    uint32
}

func (pc *peerConn) Write(p []byte) (int, error) {
	return pc.conn.WriteToUDP(p, pc.addr)
}

func (pc *peerConn) Close() error {
	if atomic.LoadUint32(&pc.quiet) == 1 {
		return nil
	}
	_, err := pc.conn.WriteToUDP(goodbye(pc.serverID), pc.addr)
	return err
}

// peer is a remote Client, identified by its address.
type peer struct {
	key      string
	provider *transport.Provider[*peerConn]

	// id, cc and connectedAt are set once the handshake has finished.
	id          uuid.UUID
	cc          codecConfig
	connectedAt time.Time
	state       engine.PeerState

	sendMutex sync.Mutex

	inbox     chan []byte
	closeSyn  chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func (p *peer) close() {
	p.closeOnce.Do(func() { close(p.closeSyn) })
}

// peerConduit exchanges the handshake's blocks through the peer's inbox.
type peerConduit struct {
	p  *peer
	cc codecConfig
}

func (pc *peerConduit) WriteBlock(data []byte) error {
	datagram, err := pc.cc.encode(data)
	if err != nil {
		return err
	}

	_, err = pc.p.provider.Conn().Write(datagram)
	return err
}

func (pc *peerConduit) ReadBlock() ([]byte, error) {
	select {
	case datagram := <-pc.p.inbox:
		if _, ok := parseGoodbye(datagram); ok {
			return nil, io.EOF
		}
		return pc.cc.decode(datagram)

	case <-pc.p.closeSyn:
		return nil, io.EOF
	}
}

// Server receives datagrams from multiple Clients on one UDP port.
//
// This type implements the engine.Server and might be supervised by an engine.Manager.
type Server struct {
	*engine.Lifecycle[engine.ServerState]

	config connstring.UDP
	id     uuid.UUID
	policy *engine.Policy

	// mutex guards starting and stopping.
	mutex   sync.Mutex
	conn    *net.UDPConn
	stopSyn chan struct{}
	stopAck chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	peersWg sync.WaitGroup

	// peersMutex guards the peers, keyed by their address.
	peersMutex sync.Mutex
	peers      map[string]*peer
}

// NewServer for a local port. The Policy is cloned; a nil Policy results in the defaults.
func NewServer(config connstring.UDP, policy *engine.Policy) *Server {
	if policy == nil {
		policy = engine.NewPolicy()
	} else {
		policy = policy.Clone()
	}

	server := &Server{
		Lifecycle: engine.NewLifecycle(engine.NotRunning, engine.Running),
		config:    config,
		id:        uuid.New(),
		policy:    policy,
		peers:     make(map[string]*peer),
	}
	policy.BindConnected(func() bool { return server.Is(engine.Running) })

	return server
}

func (server *Server) log() *log.Entry {
	return log.WithFields(log.Fields{
		"server": server.Address(),
		"id":     server.id,
	})
}

// Start receiving datagrams.
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

	addr, err := net.ResolveUDPAddr("udp", server.config.LocalAddress())
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	if _, err := server.Transition(engine.Running); err != nil {
		_ = conn.Close()
		return err
	}

	server.conn = conn
	server.stopSyn = make(chan struct{})
	server.stopAck = make(chan struct{})
	server.ctx, server.cancel = context.WithCancel(context.Background())

	go server.readLoop(conn, server.stopSyn, server.stopAck)

	return nil
}

func (server *Server) readLoop(conn *net.UDPConn, stopSyn, stopAck chan struct{}) {
	buf := make([]byte, MaxDatagramSize)

	for {
		select {
		case <-stopSyn:
			close(stopAck)
			return

		default:
			if err := conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
				server.log().WithError(err).Error("Failed to set deadline on UDP socket")
				time.Sleep(50 * time.Millisecond)
				continue
			}

			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				var netErr net.Error
				if !errors.As(err, &netErr) || !netErr.Timeout() {
					server.log().WithError(err).Debug("Reading a datagram failed")
				}
				continue
			}

			server.dispatch(addr, append([]byte(nil), buf[:n]...))
		}
	}
}

// dispatch a datagram into its peer's inbox. Datagrams of unknown addresses create a new peer.
func (server *Server) dispatch(addr *net.UDPAddr, datagram []byte) {
	key := addr.String()

	server.peersMutex.Lock()
	p, known := server.peers[key]
	if !known {
		if _, isGoodbye := parseGoodbye(datagram); isGoodbye {
			server.peersMutex.Unlock()
			return
		}

		if len(server.peers) >= server.policy.MaxClientConnections() {
			server.peersMutex.Unlock()
			server.reject(addr)
			return
		}

		p = &peer{
			key: key,
			provider: transport.NewProvider(&peerConn{
				conn:     server.conn,
				addr:     addr,
				serverID: server.id,
			}),
			state:    engine.Negotiating,
			inbox:    make(chan []byte, inboxSize),
			closeSyn: make(chan struct{}),
			done:     make(chan struct{}),
		}
		server.peers[key] = p

		server.peersWg.Add(1)
		go server.serve(p)
	}
	server.peersMutex.Unlock()

	select {
	case p.inbox <- datagram:
	default:
		server.log().WithField("remote", key).Warn("Inbox is full, dropping datagram")
	}
}

func (server *Server) reject(addr *net.UDPAddr) {
	if _, err := server.conn.WriteToUDP(goodbye(server.id), addr); err != nil {
		server.log().WithError(err).Debug("Sending goodbye to a rejected client failed")
	}

	server.log().WithField("remote", addr).Warn("Rejecting client, capacity reached")
	server.Emit(engine.NewErrorStatus(server, engine.ClientRejected, uuid.Nil, engine.ErrCapacityReached))
}

func (server *Server) removePeer(p *peer) {
	server.peersMutex.Lock()
	if server.peers[p.key] == p {
		delete(server.peers, p.key)
	}
	server.peersMutex.Unlock()

	p.close()
	p.provider.Reset()
}

// serve a peer: negotiate the handshake and process its datagrams.
func (server *Server) serve(p *peer) {
	defer server.peersWg.Done()
	defer close(p.done)

	policy := server.policy
	id, key := uuid.New(), policy.Passphrase()

	if policy.Handshake() {
		state, err := handshake.Run(server.ctx, &peerConduit{p: p, cc: handshakeCodec(policy)}, handshake.Configuration{
			ActivePeer:    false,
			ID:            server.id,
			Passphrase:    key,
			SecureSession: policy.SecureSession(),
			Timeout:       policy.HandshakeTimeout(),
			Admit:         server.admit,
		})
		if err != nil {
			server.removePeer(p)
			server.reportHandshakeFailure(p.key, err)
			return
		}

		id, key = state.PeerID, state.SessionKey
	}

	server.peersMutex.Lock()
	p.id = id
	p.cc = newCodecConfig(policy, key)
	p.connectedAt = time.Now()
	p.state = engine.Established
	server.peersMutex.Unlock()

	p.provider.ResetStats()

	server.log().WithFields(log.Fields{
		"peer":   p.id,
		"remote": p.key,
	}).Info("Client connected")
	server.Emit(engine.NewStatus(server, engine.PeerConnected, p.id))

	cause := server.receive(p)

	server.removePeer(p)
	server.log().WithError(cause).WithField("peer", p.id).Info("Client disconnected")
	server.Emit(engine.NewErrorStatus(server, engine.PeerDisconnected, p.id, cause))
}

// receive a peer's datagrams until it says goodbye, times out or is closed.
func (server *Server) receive(p *peer) error {
	var timer *time.Timer
	var timeout <-chan time.Time
	if d := p.cc.receiveTimeout; d > 0 {
		timer = time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case datagram := <-p.inbox:
			if timer != nil {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(p.cc.receiveTimeout)
			}

			if _, ok := parseGoodbye(datagram); ok {
				atomic.StoreUint32(&p.provider.Conn().quiet, 1)
				return nil
			}

			p.provider.AddReceived(len(datagram))

			data, err := p.cc.decode(datagram)
			if err != nil {
				server.log().WithError(err).WithField("peer", p.id).Warn("Dropping unprocessable datagram")
				server.Emit(engine.NewErrorStatus(server, engine.Exception, p.id, err))
				continue
			}
			server.Emit(engine.NewDataReceived(server, p.id, data))

		case <-timeout:
			server.log().WithField("peer", p.id).Info("Receive timeout expired")
			server.Emit(engine.NewErrorStatus(server, engine.ReceiveTimeout, p.id, engine.ErrReceiveTimeout))
			return engine.ErrReceiveTimeout

		case <-p.closeSyn:
			return nil
		}
	}
}

// admit checks if an identity is not already connected.
func (server *Server) admit(id uuid.UUID) error {
	if _, err := server.lookup(id); err == nil {
		return fmt.Errorf("client %v is already connected", id)
	}
	return nil
}

func (server *Server) reportHandshakeFailure(remote string, err error) {
	entry := server.log().WithError(err).WithField("remote", remote)

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, handshake.StageClose):
		entry.Debug("Handshake was aborted")

	case errors.Is(err, engine.ErrHandshakeTimeout):
		entry.Warn("Handshake timed out")
		server.Emit(engine.NewErrorStatus(server, engine.HandshakeTimeout, uuid.Nil, err))

	default:
		if !errors.Is(err, engine.ErrHandshakeUnsuccessful) {
			err = fmt.Errorf("%w: %v", engine.ErrHandshakeUnsuccessful, err)
		}
		entry.Warn("Handshake was unsuccessful")
		server.Emit(engine.NewErrorStatus(server, engine.HandshakeUnsuccessful, uuid.Nil, err))
	}
}

// lookup an established peer by its identity.
func (server *Server) lookup(id uuid.UUID) (*peer, error) {
	server.peersMutex.Lock()
	defer server.peersMutex.Unlock()

	for _, p := range server.peers {
		if p.state == engine.Established && p.id == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", engine.ErrUnknownClient, id)
}

// established peers, ordered by their connection time.
func (server *Server) established() []*peer {
	server.peersMutex.Lock()
	defer server.peersMutex.Unlock()

	peers := make([]*peer, 0, len(server.peers))
	for _, p := range server.peers {
		if p.state == engine.Established {
			peers = append(peers, p)
		}
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].connectedAt.Before(peers[j].connectedAt)
	})
	return peers
}

// Stop receiving and say goodbye to all Clients.
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

	server.cancel()

	server.peersMutex.Lock()
	for _, p := range server.peers {
		p.close()
	}
	server.peersMutex.Unlock()

	server.peersWg.Wait()

	if closeErr := server.conn.Close(); closeErr != nil {
		err = multierror.Append(err, closeErr)
	}
	server.conn = nil

	return
}

func (server *Server) send(p *peer, data []byte) error {
	if len(data) > MaxDatagramSize {
		return engine.PayloadTooLarge(len(data), MaxDatagramSize)
	}

	datagram, err := p.cc.encode(data)
	if err != nil {
		return err
	}

	p.sendMutex.Lock()
	defer p.sendMutex.Unlock()

	pending := p.provider.WaitAsync(0, nil)
	n, err := p.provider.Conn().Write(datagram)
	if !p.provider.CompleteSend(pending, n) && err == nil {
		err = engine.ErrNotConnected
	}
	return err
}

// Send a payload as one datagram to a Client.
func (server *Server) Send(id uuid.UUID, data []byte) error {
	if len(data) > MaxDatagramSize {
		return engine.PayloadTooLarge(len(data), MaxDatagramSize)
	}

	p, err := server.lookup(id)
	if err != nil {
		return err
	}
	return server.send(p, data)
}

// SendAsync transmits a payload immediately, as datagrams do not block.
func (server *Server) SendAsync(id uuid.UUID, data []byte) <-chan error {
	result := make(chan error, 1)
	result <- server.Send(id, data)
	return result
}

// Broadcast a payload to all Clients.
func (server *Server) Broadcast(data []byte) (err error) {
	for _, p := range server.established() {
		if sendErr := server.send(p, data); sendErr != nil {
			err = multierror.Append(err, fmt.Errorf("client %v: %w", p.id, sendErr))
		}
	}
	return
}

// Evict a Client by saying goodbye.
func (server *Server) Evict(id uuid.UUID) error {
	p, err := server.lookup(id)
	if err != nil {
		return err
	}

	server.log().WithField("peer", id).Info("Evicting client")
	p.close()
	<-p.done
	return nil
}

// Clients returns all Clients which have finished their handshake.
func (server *Server) Clients() []engine.PeerInfo {
	peers := server.established()

	infos := make([]engine.PeerInfo, 0, len(peers))
	for _, p := range peers {
		infos = append(infos, engine.PeerInfo{
			ID:            p.id,
			RemoteAddress: p.key,
			ConnectedAt:   p.connectedAt,
			Stats:         p.provider.Stats(),
		})
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

func (server *Server) ID() uuid.UUID {
	return server.id
}

func (server *Server) Policy() *engine.Policy {
	return server.policy
}

// Addr is the bound address while running, otherwise nil.
func (server *Server) Addr() net.Addr {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	if server.conn == nil {
		return nil
	}
	return server.conn.LocalAddr()
}

// Address is the local port, prefixed by the protocol.
func (server *Server) Address() string {
	return fmt.Sprintf("udp://%s", server.config.LocalAddress())
}

func (server *Server) String() string {
	return server.Address()
}
