// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package connstring parses connection strings, i.e., ";"-delimited lists of "key=value" pairs with
// case-insensitive keys, into typed configurations for each transport.
//
// An optional "protocol" key selects the transport, e.g., "protocol=tcp; server=example.org; port=8888".
package connstring

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrMissingKey is returned if a required key is absent.
	ErrMissingKey = errors.New("missing key")

	// ErrInvalidPort is returned for ports outside of 1 to 65535.
	ErrInvalidPort = errors.New("invalid port")

	// ErrMalformed is returned for pairs without a "=" separator or without a key.
	ErrMalformed = errors.New("malformed connection string")

	// ErrInvalidValue is returned for values which cannot be interpreted for their key.
	ErrInvalidValue = errors.New("invalid value")
)

// ProtocolKey names the transport.
const ProtocolKey = "protocol"

// Values are the parsed pairs of a connection string. Keys are stored in lower case.
type Values map[string]string

// Parse a connection string. Empty pairs, e.g., from a trailing ";", are ignored. The last occurrence of a
// duplicate key wins.
func Parse(s string) (Values, error) {
	values := make(Values)

	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		i := strings.IndexByte(pair, '=')
		if i <= 0 {
			return nil, fmt.Errorf("%w: pair %q", ErrMalformed, pair)
		}

		key := strings.ToLower(strings.TrimSpace(pair[:i]))
		if key == "" {
			return nil, fmt.Errorf("%w: pair %q", ErrMalformed, pair)
		}
		values[key] = strings.TrimSpace(pair[i+1:])
	}

	return values, nil
}

// Get a value by its case-insensitive key.
func (v Values) Get(key string) (value string, ok bool) {
	value, ok = v[strings.ToLower(key)]
	return
}

// GetDefault returns a key's value or the fallback, if absent or empty.
func (v Values) GetDefault(key, fallback string) string {
	if value, ok := v.Get(key); ok && value != "" {
		return value
	}
	return fallback
}

// String representation with the protocol first, followed by all other keys in lexical order.
func (v Values) String() string {
	keys := make([]string, 0, len(v))
	for key := range v {
		if key != ProtocolKey {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var pairs []string
	if protocol, ok := v[ProtocolKey]; ok {
		pairs = append(pairs, ProtocolKey+"="+protocol)
	}
	for _, key := range keys {
		pairs = append(pairs, key+"="+v[key])
	}
	return strings.Join(pairs, "; ")
}

// Protocol of a connection string in lower case. Connection strings without a protocol key default to "tcp".
func Protocol(s string) (string, error) {
	values, err := Parse(s)
	if err != nil {
		return "", err
	}
	return strings.ToLower(values.GetDefault(ProtocolKey, "tcp")), nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}
	return port, nil
}

// portValue parses a key's port, if present; otherwise the fallback is returned.
func (v Values) portValue(key string, fallback int) (int, error) {
	s, ok := v.Get(key)
	if !ok || s == "" {
		return fallback, nil
	}
	return parsePort(s)
}

func (v Values) intValue(key string, fallback int) (int, error) {
	s, ok := v.Get(key)
	if !ok || s == "" {
		return fallback, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, s)
	}
	return n, nil
}

func (v Values) boolValue(key string) (bool, error) {
	s, ok := v.Get(key)
	if !ok || s == "" {
		return false, nil
	}

	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, s)
	}
	return b, nil
}

// oneOf returns the canonical spelling of a case-insensitive value out of a set of options.
func (v Values) oneOf(key, fallback string, options ...string) (string, error) {
	s, ok := v.Get(key)
	if !ok || s == "" {
		return fallback, nil
	}

	for _, option := range options {
		if strings.EqualFold(s, option) {
			return option, nil
		}
	}
	return "", fmt.Errorf("%w: %s=%q, expected one of %v", ErrInvalidValue, key, s, options)
}
