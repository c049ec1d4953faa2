// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ConnectLoop drives a Client's connection attempts within its Lifecycle.
//
// The Lifecycle is moved into Connecting and each attempt is executed until one succeeds. A successful attempt must
// transition the Lifecycle into Connected itself. Each failure is reported as a Status; handshake failures as
// HandshakeTimeout or HandshakeUnsuccessful, all others as ConnectingException. After the Policy's maximum number of
// attempts or a permanent failure, e.g., a rejected handshake, the Lifecycle falls back to Disconnected.
func ConnectLoop(ctx context.Context, lc *Lifecycle[ClientState], sender Client, policy *Policy,
	attempt func(ctx context.Context) error) error {
	if lc.IsClosed() {
		return ErrClosed
	}

	if _, err := lc.Transition(Connecting); err != nil {
		return err
	}

	logger := log.WithField("client", sender)
	maxAttempts := policy.MaxConnectionAttempts()

	for n := 1; ; n++ {
		logger.WithField("attempt", n).Debug("Connecting")

		err := attempt(ctx)
		if err == nil {
			return nil
		}

		reportConnectFailure(lc, sender, logger, n, err)

		if !isRetryable(err) || errors.Is(err, context.Canceled) ||
			(maxAttempts != UnlimitedAttempts && n >= maxAttempts) {
			giveUp(lc, logger)
			return err
		}

		select {
		case <-time.After(policy.RetryDelay()):
			_, _ = lc.Transition(Connecting)

		case <-ctx.Done():
			giveUp(lc, logger)
			return ctx.Err()

		case <-lc.Closing():
			giveUp(lc, logger)
			return ErrClosed
		}
	}
}

func reportConnectFailure(lc *Lifecycle[ClientState], sender Client, logger *log.Entry, attempt int, err error) {
	entry := logger.WithError(err).WithField("attempt", attempt)

	var status Status
	switch {
	case errors.Is(err, ErrHandshakeTimeout):
		entry.Warn("Handshake timed out")
		status = NewErrorStatus(sender, HandshakeTimeout, uuid.Nil, err)

	case errors.Is(err, ErrHandshakeUnsuccessful):
		entry.Warn("Handshake was rejected")
		status = NewErrorStatus(sender, HandshakeUnsuccessful, uuid.Nil, err)

	default:
		entry.Warn("Connection attempt failed")
		status = NewConnectingException(sender, attempt, err)
	}

	status.Attempt = attempt
	lc.Emit(status)
}

func giveUp(lc *Lifecycle[ClientState], logger *log.Entry) {
	if _, err := lc.Transition(Disconnected); err != nil {
		logger.WithError(err).Debug("Giving up connecting")
	}
}
