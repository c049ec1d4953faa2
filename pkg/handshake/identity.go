// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package handshake

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dtn7/sockline/pkg/codec"
	"github.com/dtn7/sockline/pkg/engine"
	"github.com/dtn7/sockline/pkg/msgs"
)

// IdentityStage models the HandshakeMessage exchange.
type IdentityStage struct {
	state     *State
	closeChan <-chan struct{}
}

// Handle this Stage's action based on the previous Stage's State and the StageHandler's close channel.
func (is *IdentityStage) Handle(state *State, closeChan <-chan struct{}) {
	is.state = state
	is.closeChan = closeChan

	if is.state.Configuration.ActivePeer {
		is.handleActive()
	} else {
		is.handlePassive()
	}
}

func (is *IdentityStage) handleActive() {
	conf := is.state.Configuration

	if err := is.send(msgs.NewHandshakeMessage(conf.ID, conf.Passphrase)); err != nil {
		is.state.StageError = err
		return
	}

	hm, err := is.receiveMsgOrClose()
	if err != nil {
		is.state.StageError = err
		return
	} else if hm.ID == uuid.Nil {
		is.state.StageError = fmt.Errorf("%w: peer answered with an empty identity", engine.ErrHandshakeUnsuccessful)
		return
	}

	is.state.PeerID = hm.ID
	is.state.SessionKey = hm.Passphrase
}

func (is *IdentityStage) handlePassive() {
	conf := is.state.Configuration

	hm, err := is.receiveMsgOrClose()
	if err != nil {
		is.state.StageError = err
		return
	}

	switch {
	case hm.ID == uuid.Nil:
		is.state.StageError = fmt.Errorf("%w: empty identity", engine.ErrHandshakeUnsuccessful)
		return
	case hm.Passphrase != msgs.NormalizePassphrase(conf.Passphrase):
		is.state.StageError = fmt.Errorf("%w: passphrase mismatch for %v", engine.ErrHandshakeUnsuccessful, hm.ID)
		return
	}

	if conf.Admit != nil {
		if admitErr := conf.Admit(hm.ID); admitErr != nil {
			is.state.StageError = fmt.Errorf("%w: %v", engine.ErrHandshakeUnsuccessful, admitErr)
			return
		}
	}

	key := msgs.NormalizePassphrase(conf.Passphrase)
	if conf.SecureSession {
		if key, err = codec.GenerateSessionKey(); err != nil {
			is.state.StageError = err
			return
		}
	}

	if err := is.send(msgs.NewHandshakeMessage(conf.ID, key)); err != nil {
		is.state.StageError = err
		return
	}

	is.state.PeerID = hm.ID
	is.state.SessionKey = key
}

func (is *IdentityStage) send(hm *msgs.HandshakeMessage) error {
	data, err := msgs.MarshalBytes(hm)
	if err != nil {
		return err
	}
	return is.state.Conduit.WriteBlock(data)
}

type blockResult struct {
	data []byte
	err  error
}

// receiveMsgOrClose waits for the peer's HandshakeMessage, the timeout or the close signal. A block arriving after
// the timeout is dropped.
func (is *IdentityStage) receiveMsgOrClose() (hm *msgs.HandshakeMessage, err error) {
	resultChan := make(chan blockResult, 1)
	go func() {
		data, readErr := is.state.Conduit.ReadBlock()
		resultChan <- blockResult{data, readErr}
	}()

	var timeout <-chan time.Time
	if t := is.state.Configuration.Timeout; t > 0 {
		timer := time.NewTimer(t)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-is.closeChan:
		err = StageClose

	case <-timeout:
		err = engine.ErrHandshakeTimeout

	case result := <-resultChan:
		switch {
		case result.err == nil:
			hm = new(msgs.HandshakeMessage)
			if len(result.data) != msgs.HandshakeSize {
				err = fmt.Errorf("%w: block of %d bytes", engine.ErrHandshakeUnsuccessful, len(result.data))
				hm = nil
			} else if parseErr := hm.Unmarshal(bytes.NewReader(result.data)); parseErr != nil {
				err = fmt.Errorf("%w: %v", engine.ErrHandshakeUnsuccessful, parseErr)
				hm = nil
			}

		case errors.Is(result.err, io.EOF), errors.Is(result.err, io.ErrUnexpectedEOF),
			errors.Is(result.err, syscall.ECONNRESET):
			err = fmt.Errorf("%w: connection closed by peer", engine.ErrHandshakeUnsuccessful)

		case errors.Is(result.err, codec.ErrDecryption):
			err = fmt.Errorf("%w: %v", engine.ErrHandshakeUnsuccessful, result.err)

		default:
			err = result.err
		}
	}

	return
}
