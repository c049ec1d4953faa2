// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// engineElem is a wrapper around an Engine to assign a status, supervised by a Manager.
type engineElem struct {
	engine Engine

	// mutex protects ttl and activating.
	mutex sync.Mutex

	// ttl is used both for determining the activity and for counting-off.
	// A negative ttl implies an active engineElem.
	ttl int

	// activating is set while an activation is running in the background.
	activating bool

	// stop{Syn,Ack} are used to supervise the forwarding handler, see stop()
	stopSyn  chan struct{}
	stopAck  chan struct{}
	stopOnce sync.Once
}

// newEngineElem creates a new engineElem with an initial ttl and starts forwarding its Status messages.
func newEngineElem(engine Engine, statusChnl chan<- Status, ttl int) *engineElem {
	ee := &engineElem{
		engine:  engine,
		ttl:     ttl,
		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}

	go ee.handler(statusChnl)

	return ee
}

// handler forwards Status messages to the Manager until stopped or the Engine's channel was closed.
func (ee *engineElem) handler(statusChnl chan<- Status) {
	defer close(ee.stopAck)

	for {
		select {
		case <-ee.stopSyn:
			log.WithField("engine", ee.engine).Debug("Closing engine's handler")
			return

		case status, ok := <-ee.engine.Channel():
			if !ok {
				return
			}

			select {
			case statusChnl <- status:
			case <-ee.stopSyn:
				return
			}
		}
	}
}

// isActive returns if this engineElem's Engine was started successfully.
func (ee *engineElem) isActive() bool {
	ee.mutex.Lock()
	defer ee.mutex.Unlock()

	return ee.ttl < 0
}

// beginActivation marks an inactive, idle engineElem as activating.
func (ee *engineElem) beginActivation() bool {
	ee.mutex.Lock()
	defer ee.mutex.Unlock()

	if ee.ttl < 0 || ee.activating {
		return false
	}
	ee.activating = true
	return true
}

// activate tries to start this engineElem's Engine. Both a success message and an indicator for a new attempt
// are returned. beginActivation must have been called before.
func (ee *engineElem) activate(ctx context.Context) (successful, retry bool) {
	defer func() {
		ee.mutex.Lock()
		ee.activating = false
		ee.mutex.Unlock()
	}()

	ee.mutex.Lock()
	ttl := ee.ttl
	ee.mutex.Unlock()

	if ttl == 0 {
		log.WithFields(log.Fields{
			"engine": ee.engine,
			"error":  "TTL expired",
		}).Info("Failed to start engine")

		return false, false
	}

	var err error
	switch e := ee.engine.(type) {
	case Client:
		err = e.Connect(ctx)
	case Server:
		err = e.Start()
	default:
		err = errors.New("neither a client nor a server")
	}

	ee.mutex.Lock()
	defer ee.mutex.Unlock()

	if err == nil {
		log.WithField("engine", ee.engine).Info("Started engine")

		ee.ttl = -1
		return true, false
	}

	retry = isRetryable(err)

	log.WithFields(log.Fields{
		"engine": ee.engine,
		"ttl":    ee.ttl,
		"retry":  retry,
		"error":  err,
	}).Info("Failed to start engine")

	if retry {
		ee.ttl -= 1
	} else {
		ee.ttl = 0
	}

	return false, retry
}

// deactivate marks this engineElem as inactive with a new ttl, e.g., after its Client was disconnected.
func (ee *engineElem) deactivate(ttl int) {
	ee.mutex.Lock()
	defer ee.mutex.Unlock()

	if ee.ttl < 0 {
		ee.ttl = ttl
	}
}

// stop forwarding and take the Engine down, without closing it. Only the first call has an effect.
func (ee *engineElem) stop() (err error) {
	ee.stopOnce.Do(func() {
		switch e := ee.engine.(type) {
		case Client:
			if e.State() != Disconnected {
				err = e.Disconnect()
			}
		case Server:
			if e.State() == Running {
				err = e.Stop()
			}
		}

		close(ee.stopSyn)
		<-ee.stopAck
	})
	return
}

// isRetryable checks if a failed start might succeed later on.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrHandshakeUnsuccessful),
		errors.Is(err, ErrSecureSessionRequirements),
		errors.Is(err, ErrHandshakeUnsupported),
		errors.Is(err, ErrClosed):
		return false
	default:
		return true
	}
}
