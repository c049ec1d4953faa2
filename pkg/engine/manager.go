// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// Manager monitors and manages various engines, (re)starts them if necessary, and forwards their Status messages.
// The recipient can perform further actions based on these, but does not have to take care of the engines'
// administration themselves. Disconnected clients are reconnected until their ttl is exhausted.
type Manager struct {
	// queueTtl is the amount of retries for an engine.
	queueTtl int

	// retryTime is the duration between two activation attempts.
	retryTime time.Duration

	// engines maps each engine's address to a wrapped engineElem struct.
	// engines: Map[string]*engineElem
	engines *sync.Map

	// inChnl receives Status while outChnl passes it on. outChnl must always be read, otherwise the Manager
	// will block.
	inChnl  chan Status
	outChnl chan Status

	ctx       context.Context
	ctxCancel context.CancelFunc
	activeWg  sync.WaitGroup

	// stop{Syn,Ack} are used to supervise closing this Manager, see Close()
	stopSyn chan struct{}
	stopAck chan struct{}

	// stopFlag and its mutex protect the Manager against acting on new engines after the Close method was called.
	stopFlag      bool
	stopFlagMutex sync.Mutex
}

// NewManager creates a new Manager to supervise engines. Inactive engines are started every retryTime for at most
// queueTtl attempts.
func NewManager(retryTime time.Duration, queueTtl int) *Manager {
	ctx, ctxCancel := context.WithCancel(context.Background())

	manager := &Manager{
		queueTtl:  queueTtl,
		retryTime: retryTime,

		engines: new(sync.Map),

		inChnl:  make(chan Status, 100),
		outChnl: make(chan Status),

		ctx:       ctx,
		ctxCancel: ctxCancel,

		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}

	go manager.handler()

	return manager
}

// handler is the internal goroutine for management.
func (manager *Manager) handler() {
	activateTicker := time.NewTicker(manager.retryTime)
	defer activateTicker.Stop()

	for {
		select {
		case <-manager.stopSyn:
			log.Debug("Engine Manager received closing signal")

			close(manager.outChnl)
			close(manager.stopAck)
			return

		case status := <-manager.inChnl:
			log.WithFields(log.Fields{
				"type":   status.Type,
				"status": status.String(),
			}).Debug("Engine Manager received Status")

			if status.Type == PeerDisconnected {
				if client, ok := status.Sender.(Client); ok {
					manager.clientDisconnected(client)
				}
			}

			select {
			case manager.outChnl <- status:
			case <-manager.stopSyn:
				close(manager.outChnl)
				close(manager.stopAck)
				return
			}

		case <-activateTicker.C:
			manager.engines.Range(func(_, elem interface{}) bool {
				manager.activate(elem.(*engineElem))
				return true
			})
		}
	}
}

// clientDisconnected marks a lost Client's engineElem as inactive, resulting in a reconnect.
func (manager *Manager) clientDisconnected(client Client) {
	elem, exists := manager.engines.Load(client.Address())
	if !exists || client.State() != Disconnected {
		return
	}

	log.WithField("client", client).Info("Engine Manager received Disconnected, reconnecting client")
	elem.(*engineElem).deactivate(manager.queueTtl)
}

// activate an inactive engineElem in the background.
func (manager *Manager) activate(ee *engineElem) {
	manager.stopFlagMutex.Lock()
	if manager.stopFlag || !ee.beginActivation() {
		manager.stopFlagMutex.Unlock()
		return
	}
	manager.activeWg.Add(1)
	manager.stopFlagMutex.Unlock()

	go func() {
		defer manager.activeWg.Done()

		if successful, retry := ee.activate(manager.ctx); !successful && !retry {
			log.WithField("engine", ee.engine).Warn("Startup of engine failed, a retry should not be made")

			if elem, exists := manager.engines.Load(ee.engine.Address()); exists && elem == ee {
				manager.engines.Delete(ee.engine.Address())
				_ = ee.stop()
			}
		}
	}()
}

// Channel references the outgoing channel for Status messages.
func (manager *Manager) Channel() <-chan Status {
	return manager.outChnl
}

// isStopped signals if the Manager should be stopped.
func (manager *Manager) isStopped() bool {
	manager.stopFlagMutex.Lock()
	defer manager.stopFlagMutex.Unlock()

	return manager.stopFlag
}

// Close the Manager and all supervised engines.
func (manager *Manager) Close() error {
	manager.stopFlagMutex.Lock()
	manager.stopFlag = true
	manager.stopFlagMutex.Unlock()

	manager.ctxCancel()
	manager.activeWg.Wait()

	var errs *multierror.Error
	manager.engines.Range(func(address, elem interface{}) bool {
		ee := elem.(*engineElem)
		manager.engines.Delete(address)

		if err := ee.stop(); err != nil {
			errs = multierror.Append(errs, err)
		}
		if err := ee.engine.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		return true
	})

	close(manager.stopSyn)
	<-manager.stopAck

	return errs.ErrorOrNil()
}

// Register an Engine, which will be started in the background.
func (manager *Manager) Register(engine Engine) {
	if manager.isStopped() {
		return
	}

	ee := newEngineElem(engine, manager.inChnl, manager.queueTtl)
	if _, loaded := manager.engines.LoadOrStore(engine.Address(), ee); loaded {
		log.WithFields(log.Fields{
			"engine":  engine,
			"address": engine.Address(),
		}).Debug("Engine registration failed, because this address does already exists")

		_ = ee.stop()
		return
	}

	manager.activate(ee)
}

// Unregister an Engine. The Engine is disconnected or stopped, but not closed.
func (manager *Manager) Unregister(engine Engine) {
	elem, exists := manager.engines.LoadAndDelete(engine.Address())
	if !exists {
		log.WithFields(log.Fields{
			"engine":  engine,
			"address": engine.Address(),
		}).Info("Engine unregistration failed, this address does not exists")

		return
	}

	if err := elem.(*engineElem).stop(); err != nil {
		log.WithError(err).WithField("engine", engine).Warn("Stopping unregistered engine errored")
	}
}

// Restart a known Engine.
func (manager *Manager) Restart(engine Engine) {
	manager.Unregister(engine)
	manager.Register(engine)
}

// Clients returns all active Clients.
func (manager *Manager) Clients() (clients []Client) {
	manager.engines.Range(func(_, elem interface{}) bool {
		ee := elem.(*engineElem)
		if client, ok := ee.engine.(Client); ok && ee.isActive() {
			clients = append(clients, client)
		}
		return true
	})
	return
}

// Servers returns all active Servers.
func (manager *Manager) Servers() (servers []Server) {
	manager.engines.Range(func(_, elem interface{}) bool {
		ee := elem.(*engineElem)
		if server, ok := ee.engine.(Server); ok && ee.isActive() {
			servers = append(servers, server)
		}
		return true
	})
	return
}

// Has checks if an Engine of this address is registered.
func (manager *Manager) Has(address string) bool {
	_, exists := manager.engines.Load(address)
	return exists
}
