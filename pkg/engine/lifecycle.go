// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// reportChanSize is the buffer of each Lifecycle's Status channel.
const reportChanSize = 64

// Lifecycle is the state machine helper embedded by each engine. It tracks the state and the timestamps of
// entering and leaving the active state, e.g., Connected or Running, and owns the outgoing Status channel.
type Lifecycle[S State[S]] struct {
	mutex  sync.RWMutex
	state  S
	active S

	activeSince   time.Time
	inactiveSince time.Time

	reportChan chan Status
	closeSyn   chan struct{}
	closeOnce  sync.Once
	emitMutex  sync.RWMutex
	closed     bool

	store    SettingsStore
	category string
}

// NewLifecycle starting in the initial state. Entering the active state records the activation timestamp.
func NewLifecycle[S State[S]](initial, active S) *Lifecycle[S] {
	return &Lifecycle[S]{
		state:      initial,
		active:     active,
		reportChan: make(chan Status, reportChanSize),
		closeSyn:   make(chan struct{}),
	}
}

// State returns the current state.
func (lc *Lifecycle[S]) State() S {
	lc.mutex.RLock()
	defer lc.mutex.RUnlock()

	return lc.state
}

// Is checks the current state.
func (lc *Lifecycle[S]) Is(state S) bool {
	return lc.State() == state
}

// Transition to another state, if allowed. The previous state is returned.
func (lc *Lifecycle[S]) Transition(to S) (from S, err error) {
	lc.mutex.Lock()
	defer lc.mutex.Unlock()

	from = lc.state
	if !from.CanTransition(to) {
		err = &InvalidTransitionError{From: from.String(), To: to.String()}
		return
	}

	switch {
	case to == lc.active && from != lc.active:
		lc.activeSince = time.Now()
	case from == lc.active && to != lc.active:
		lc.inactiveSince = time.Now()
	}

	lc.state = to
	return
}

// ActiveSince is the timestamp of the last activation.
func (lc *Lifecycle[S]) ActiveSince() time.Time {
	lc.mutex.RLock()
	defer lc.mutex.RUnlock()

	return lc.activeSince
}

// InactiveSince is the timestamp of the last deactivation.
func (lc *Lifecycle[S]) InactiveSince() time.Time {
	lc.mutex.RLock()
	defer lc.mutex.RUnlock()

	return lc.inactiveSince
}

// Duration of the current activity or, if inactive, of the last one.
func (lc *Lifecycle[S]) Duration() time.Duration {
	lc.mutex.RLock()
	defer lc.mutex.RUnlock()

	switch {
	case lc.activeSince.IsZero():
		return 0
	case lc.state == lc.active:
		return time.Since(lc.activeSince)
	case lc.inactiveSince.Before(lc.activeSince):
		return 0
	default:
		return lc.inactiveSince.Sub(lc.activeSince)
	}
}

// Channel for outgoing Status messages.
func (lc *Lifecycle[S]) Channel() <-chan Status {
	return lc.reportChan
}

// Emit a Status. This blocks until the Status was read or the Lifecycle was closed; false reports the latter.
func (lc *Lifecycle[S]) Emit(status Status) bool {
	lc.emitMutex.RLock()
	defer lc.emitMutex.RUnlock()

	if lc.closed {
		return false
	}

	select {
	case lc.reportChan <- status:
		return true
	case <-lc.closeSyn:
		return false
	}
}

// Closing returns a channel which is closed when Close was called.
func (lc *Lifecycle[S]) Closing() <-chan struct{} {
	return lc.closeSyn
}

// IsClosed reports if Close was called.
func (lc *Lifecycle[S]) IsClosed() bool {
	select {
	case <-lc.closeSyn:
		return true
	default:
		return false
	}
}

// Initialize the Policy from a SettingsStore's category. The Policy is saved back on Close. A nil store disables
// persistence.
func (lc *Lifecycle[S]) Initialize(store SettingsStore, category string, policy *Policy) error {
	lc.store = store
	lc.category = category

	if store == nil {
		return nil
	}

	values, err := store.Load(category)
	if err != nil {
		return fmt.Errorf("loading settings %q failed: %w", category, err)
	} else if len(values) == 0 {
		return nil
	}

	log.WithFields(log.Fields{
		"category": category,
		"values":   len(values),
	}).Debug("Applying persisted settings")

	return policy.Apply(values)
}

// Close the Status channel and persist the Policy, if initialized with a SettingsStore.
func (lc *Lifecycle[S]) Close(policy *Policy) (err error) {
	lc.closeOnce.Do(func() {
		close(lc.closeSyn)

		lc.emitMutex.Lock()
		lc.closed = true
		close(lc.reportChan)
		lc.emitMutex.Unlock()

		if lc.store != nil && policy != nil {
			if saveErr := lc.store.Save(lc.category, policy.Values()); saveErr != nil {
				err = fmt.Errorf("saving settings %q failed: %w", lc.category, saveErr)
			}
		}
	})
	return
}
