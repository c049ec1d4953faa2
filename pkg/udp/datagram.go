// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package udp implements a datagram client and server.
//
// Each datagram carries exactly one payload, one HandshakeMessage or one GoodbyeMessage. A GoodbyeMessage announces
// the end of a session, as there is no connection to be closed. Payloads are processed by the Policy's pipeline and,
// if payload-aware, framed by a header to be told apart from GoodbyeMessages and stray datagrams.
package udp

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dtn7/sockline/pkg/codec"
	"github.com/dtn7/sockline/pkg/engine"
	"github.com/dtn7/sockline/pkg/msgs"
)

// MaxDatagramSize is the largest UDP payload over IPv4.
const MaxDatagramSize = 65507

// ErrMalformedDatagram is returned for datagrams without a valid header.
var ErrMalformedDatagram = errors.New("malformed datagram")

// codecConfig is a snapshot of the Policy's payload handling.
type codecConfig struct {
	pipeline       codec.Pipeline
	marker         []byte
	payloadAware   bool
	receiveTimeout time.Duration
}

func newCodecConfig(policy *engine.Policy, key string) codecConfig {
	return codecConfig{
		pipeline:       policy.Pipeline(key),
		marker:         policy.Marker(),
		payloadAware:   policy.PayloadAware(),
		receiveTimeout: policy.ReceiveTimeout(),
	}
}

// encode a payload into a datagram.
func (cc codecConfig) encode(data []byte) ([]byte, error) {
	if !cc.payloadAware {
		if len(data) > MaxDatagramSize {
			return nil, engine.PayloadTooLarge(len(data), MaxDatagramSize)
		}
		return data, nil
	}

	processed, err := cc.pipeline.Transmit(data)
	if err != nil {
		return nil, err
	}

	datagram := codec.AddHeader(processed, cc.marker)
	if len(datagram) > MaxDatagramSize {
		return nil, engine.PayloadTooLarge(len(datagram), MaxDatagramSize)
	}
	return datagram, nil
}

// decode a datagram into its payload.
func (cc codecConfig) decode(datagram []byte) ([]byte, error) {
	if !cc.payloadAware {
		return datagram, nil
	}

	length, ok := codec.ExtractLength(datagram, cc.marker)
	if !ok || length != len(datagram)-codec.HeaderSize(cc.marker) {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedDatagram, len(datagram))
	}
	return cc.pipeline.Receive(datagram[codec.HeaderSize(cc.marker):])
}

// handshakeCodec is the codecConfig used for the handshake's datagrams.
func handshakeCodec(policy *engine.Policy) codecConfig {
	cc := newCodecConfig(policy, policy.Passphrase())
	cc.payloadAware = true
	return cc
}

// goodbye datagram for an identity.
func goodbye(id uuid.UUID) []byte {
	data, _ := msgs.MarshalBytes(msgs.NewGoodbyeMessage(id))
	return data
}

// parseGoodbye returns the sender's identity of a GoodbyeMessage datagram.
func parseGoodbye(datagram []byte) (uuid.UUID, bool) {
	var gm msgs.GoodbyeMessage
	if !msgs.IsGoodbye(datagram) || gm.Unmarshal(bytes.NewReader(datagram)) != nil {
		return uuid.Nil, false
	}
	return gm.ID, true
}
