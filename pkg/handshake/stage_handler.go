// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package handshake

import (
	"context"
	"sync"
)

// StageSetup wraps a Stage with two possible hooks (pre and post) to be used within the StageHandler.
type StageSetup struct {
	// Stage to be executed.
	Stage Stage

	// PreHook will be executed before starting the Stage, if not nil.
	PreHook func(*StageHandler, *State) error
	// PostHook will be executed after a finished Stage, if not nil.
	PostHook func(*StageHandler, *State) error
}

// StageHandler executes a sequence of Stages and passes the State from one Stage to another. Errors might be propagated
// back through the Error method.
type StageHandler struct {
	stages []StageSetup
	state  *State

	errChan   chan error
	closeChan chan struct{}
	closeOnce sync.Once
}

// NewStageHandler for a slice of Stages, a Conduit and a Configuration.
func NewStageHandler(stages []StageSetup, conduit Conduit, config Configuration) (sh *StageHandler) {
	sh = &StageHandler{
		stages: stages,
		state: &State{
			Configuration: config,
			Conduit:       conduit,
		},

		errChan:   make(chan error, 1),
		closeChan: make(chan struct{}),
	}

	go sh.handler()

	return
}

func (sh *StageHandler) handler() {
	defer close(sh.errChan)

	for i := 0; i < len(sh.stages); i++ {
		stage := sh.stages[i]

		if stage.PreHook != nil {
			if err := stage.PreHook(sh, sh.state); err != nil {
				sh.errChan <- err
				return
			}
		}

		stage.Stage.Handle(sh.state, sh.closeChan)
		if err := sh.state.StageError; err != nil {
			sh.errChan <- err
			return
		}

		if stage.PostHook != nil {
			if err := stage.PostHook(sh, sh.state); err != nil {
				sh.errChan <- err
				return
			}
		}
	}
}

// Error might return errors risen in a Stage. The channel is closed after the last Stage.
func (sh *StageHandler) Error() <-chan error {
	return sh.errChan
}

// State of the last Stage. It must only be inspected after Error was closed.
func (sh *StageHandler) State() *State {
	return sh.state
}

// Close this StageHandler and the current Stage.
func (sh *StageHandler) Close() error {
	sh.closeOnce.Do(func() { close(sh.closeChan) })
	return nil
}

// Run the identity exchange on a Conduit and wait for its result. A cancelled context closes the StageHandler.
func Run(ctx context.Context, conduit Conduit, config Configuration) (*State, error) {
	sh := NewStageHandler([]StageSetup{{Stage: &IdentityStage{}}}, conduit, config)

	select {
	case err := <-sh.Error():
		if err != nil {
			return nil, err
		}
		return sh.State(), nil

	case <-ctx.Done():
		_ = sh.Close()
		if err := <-sh.Error(); err != nil && err != StageClose {
			return nil, err
		}
		return nil, ctx.Err()
	}
}
