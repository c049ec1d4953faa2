// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package factory creates engines from connection strings. The "protocol" key selects the transport, defaulting to
// tcp; all other keys are passed to the transport's parser in package connstring.
//
// Keys named like the engine.Policy's values, e.g., "handshake" or "passphrase", override the given Policy for the
// created engine.
package factory

import (
	"errors"
	"fmt"

	"github.com/dtn7/sockline/pkg/connstring"
	"github.com/dtn7/sockline/pkg/engine"
	"github.com/dtn7/sockline/pkg/file"
	"github.com/dtn7/sockline/pkg/serial"
	"github.com/dtn7/sockline/pkg/stream"
	"github.com/dtn7/sockline/pkg/udp"
)

// Protocol names as used for the "protocol" key.
const (
	TCP    = "tcp"
	QUIC   = "quic"
	UDP    = "udp"
	Serial = "serial"
	File   = "file"
)

// ErrUnknownProtocol is returned for an unsupported "protocol" value.
var ErrUnknownProtocol = errors.New("unknown protocol")

// ErrNoServer is returned when creating a server for a transport without a listening side.
var ErrNoServer = errors.New("protocol has no server")

// NewClient creates an engine.Client for a connection string, e.g., "protocol=tcp; server=localhost; port=8888".
func NewClient(conn string, policy *engine.Policy) (engine.Client, error) {
	protocol, policy, err := prepare(conn, policy)
	if err != nil {
		return nil, err
	}

	switch protocol {
	case TCP, QUIC:
		config, err := connstring.ParseTCPClient(conn)
		if err != nil {
			return nil, err
		}
		if protocol == QUIC {
			return stream.NewQUICClient(config, policy), nil
		}
		return stream.NewTCPClient(config, policy), nil

	case UDP:
		config, err := connstring.ParseUDP(conn)
		if err != nil {
			return nil, err
		}
		client, err := udp.NewClient(config, policy)
		if err != nil {
			return nil, err
		}
		return client, nil

	case Serial:
		config, err := connstring.ParseSerial(conn)
		if err != nil {
			return nil, err
		}
		return serial.NewClient(config, policy), nil

	case File:
		config, err := connstring.ParseFile(conn)
		if err != nil {
			return nil, err
		}
		return file.NewClient(config, policy), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, protocol)
	}
}

// NewServer creates an engine.Server for a connection string, e.g., "protocol=udp; port=8888".
func NewServer(conn string, policy *engine.Policy) (engine.Server, error) {
	protocol, policy, err := prepare(conn, policy)
	if err != nil {
		return nil, err
	}

	switch protocol {
	case TCP, QUIC:
		config, err := connstring.ParseTCPServer(conn)
		if err != nil {
			return nil, err
		}
		if protocol == QUIC {
			return stream.NewQUICServer(config, policy), nil
		}
		return stream.NewTCPServer(config, policy), nil

	case UDP:
		config, err := connstring.ParseUDP(conn)
		if err != nil {
			return nil, err
		}
		return udp.NewServer(config, policy), nil

	case Serial, File:
		return nil, fmt.Errorf("%w: %s", ErrNoServer, protocol)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, protocol)
	}
}

// prepare a connection string by extracting its protocol and applying its Policy values to a copy of the Policy.
func prepare(conn string, policy *engine.Policy) (protocol string, p *engine.Policy, err error) {
	values, err := connstring.Parse(conn)
	if err != nil {
		return
	}
	if protocol, err = connstring.Protocol(conn); err != nil {
		return
	}

	if policy == nil {
		p = engine.NewPolicy()
	} else {
		p = policy.Clone()
	}

	known := p.Values()
	overrides := make(map[string]string)
	for key, value := range values {
		if _, ok := known[key]; ok {
			overrides[key] = value
		}
	}

	if len(overrides) > 0 {
		if applyErr := p.Apply(overrides); applyErr != nil {
			err = fmt.Errorf("%w: %v", connstring.ErrInvalidValue, applyErr)
		}
	}
	return
}
