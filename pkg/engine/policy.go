// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/dtn7/sockline/pkg/codec"
	"github.com/dtn7/sockline/pkg/msgs"
)

// Policy defaults.
const (
	DefaultReceiveBufferSize     = codec.DefaultBufferSize
	DefaultHandshakeTimeout      = 5 * time.Second
	DefaultConnectTimeout        = 5 * time.Second
	DefaultRetryDelay            = time.Second
	DefaultMaxConnectionAttempts = 5
	DefaultMaxClientConnections  = 100

	// UnlimitedAttempts as MaxConnectionAttempts retries connecting forever.
	UnlimitedAttempts = -1
)

// Policy configures the handshake, cipher, compression, framing and timeouts of an engine. Setters reject changes
// which would break the Policy's invariants:
//   - a secure session requires both a handshake and encryption,
//   - the receive buffer size cannot change while connected.
//
// A Policy is safe for concurrent use.
type Policy struct {
	mutex sync.RWMutex

	handshake     bool
	secureSession bool
	passphrase    string
	crypto        codec.CryptoStrength
	compression   codec.CompressionStrength
	algorithm     codec.CompressionAlgorithm
	payloadAware  bool
	marker        []byte

	receiveBufferSize     int
	handshakeTimeout      time.Duration
	receiveTimeout        time.Duration
	connectTimeout        time.Duration
	retryDelay            time.Duration
	maxConnectionAttempts int
	maxClientConnections  int

	connected func() bool
}

// NewPolicy with payload-aware framing, no handshake, no encryption and no compression.
func NewPolicy() *Policy {
	return &Policy{
		crypto:       codec.NoEncryption,
		compression:  codec.NoCompression,
		algorithm:    codec.Zstd,
		payloadAware: true,
		marker:       append([]byte(nil), codec.DefaultMarker...),

		receiveBufferSize:     DefaultReceiveBufferSize,
		handshakeTimeout:      DefaultHandshakeTimeout,
		connectTimeout:        DefaultConnectTimeout,
		retryDelay:            DefaultRetryDelay,
		maxConnectionAttempts: DefaultMaxConnectionAttempts,
		maxClientConnections:  DefaultMaxClientConnections,
	}
}

// Clone this Policy without its connection binding.
func (p *Policy) Clone() *Policy {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return &Policy{
		handshake:     p.handshake,
		secureSession: p.secureSession,
		passphrase:    p.passphrase,
		crypto:        p.crypto,
		compression:   p.compression,
		algorithm:     p.algorithm,
		payloadAware:  p.payloadAware,
		marker:        append([]byte(nil), p.marker...),

		receiveBufferSize:     p.receiveBufferSize,
		handshakeTimeout:      p.handshakeTimeout,
		receiveTimeout:        p.receiveTimeout,
		connectTimeout:        p.connectTimeout,
		retryDelay:            p.retryDelay,
		maxConnectionAttempts: p.maxConnectionAttempts,
		maxClientConnections:  p.maxClientConnections,
	}
}

// BindConnected registers a function reporting if the owning engine is connected.
func (p *Policy) BindConnected(connected func() bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.connected = connected
}

func (p *Policy) isConnected() bool {
	return p.connected != nil && p.connected()
}

func (p *Policy) Handshake() bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.handshake
}

// SetHandshake enables or disables the handshake. Disabling is rejected for a secure session.
func (p *Policy) SetHandshake(handshake bool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !handshake && p.secureSession {
		return ErrHandshakeRequired
	}
	p.handshake = handshake
	return nil
}

func (p *Policy) SecureSession() bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.secureSession
}

// SetSecureSession enables or disables private per-session keys. Enabling requires a handshake and encryption.
func (p *Policy) SetSecureSession(secureSession bool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if secureSession && (!p.handshake || p.crypto == codec.NoEncryption) {
		return ErrSecureSessionRequirements
	}
	p.secureSession = secureSession
	return nil
}

func (p *Policy) Passphrase() string {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.passphrase
}

// checkPassphrase rejects passphrases which would not survive a HandshakeMessage unchanged.
func checkPassphrase(passphrase string) error {
	switch {
	case len(passphrase) > msgs.PassphraseSize:
		return fmt.Errorf("passphrase of %d bytes exceeds %d bytes", len(passphrase), msgs.PassphraseSize)
	case strings.HasSuffix(passphrase, " "):
		return errors.New("passphrase must not end with a space")
	default:
		return nil
	}
}

// SetPassphrase for the handshake and as the shared cipher key. It must fit into a HandshakeMessage and must not
// end with a space, the padding of that field.
func (p *Policy) SetPassphrase(passphrase string) error {
	if err := checkPassphrase(passphrase); err != nil {
		return err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.passphrase = passphrase
	return nil
}

func (p *Policy) Encryption() codec.CryptoStrength {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.crypto
}

// SetEncryption selects the cipher. Disabling encryption is rejected for a secure session.
func (p *Policy) SetEncryption(crypto codec.CryptoStrength) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if crypto == codec.NoEncryption && p.secureSession {
		return ErrSecureSessionRequirements
	}
	p.crypto = crypto
	return nil
}

func (p *Policy) Compression() codec.CompressionStrength {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.compression
}

// SetCompression selects the compression strength. Undefined strengths are rejected.
func (p *Policy) SetCompression(compression codec.CompressionStrength) error {
	if !compression.Valid() {
		return fmt.Errorf("invalid compression strength: %v", compression)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.compression = compression
	return nil
}

func (p *Policy) CompressionAlgorithm() codec.CompressionAlgorithm {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.algorithm
}

func (p *Policy) SetCompressionAlgorithm(algorithm codec.CompressionAlgorithm) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.algorithm = algorithm
}

func (p *Policy) PayloadAware() bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.payloadAware
}

func (p *Policy) SetPayloadAware(payloadAware bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.payloadAware = payloadAware
}

// Marker returns a copy of the payload header's marker.
func (p *Policy) Marker() []byte {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return append([]byte(nil), p.marker...)
}

// SetMarker for payload-aware framing. The marker must not be empty.
func (p *Policy) SetMarker(marker []byte) error {
	if len(marker) == 0 {
		return errors.New("marker must not be empty")
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.marker = append([]byte(nil), marker...)
	return nil
}

func (p *Policy) ReceiveBufferSize() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.receiveBufferSize
}

// SetReceiveBufferSize limits the bytes of a single read. It cannot be changed while connected.
func (p *Policy) SetReceiveBufferSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("receive buffer size %d must be positive", size)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.isConnected() {
		return ErrConnected
	}
	p.receiveBufferSize = size
	return nil
}

func (p *Policy) HandshakeTimeout() time.Duration {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.handshakeTimeout
}

// SetHandshakeTimeout bounds the wait for a handshake; zero disables the timeout.
func (p *Policy) SetHandshakeTimeout(timeout time.Duration) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.handshakeTimeout = timeout
}

func (p *Policy) ReceiveTimeout() time.Duration {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.receiveTimeout
}

// SetReceiveTimeout bounds each wait for incoming data; zero disables the timeout. An expired receive terminates
// the connection.
func (p *Policy) SetReceiveTimeout(timeout time.Duration) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.receiveTimeout = timeout
}

func (p *Policy) ConnectTimeout() time.Duration {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.connectTimeout
}

func (p *Policy) SetConnectTimeout(timeout time.Duration) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.connectTimeout = timeout
}

func (p *Policy) RetryDelay() time.Duration {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.retryDelay
}

func (p *Policy) SetRetryDelay(delay time.Duration) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.retryDelay = delay
}

func (p *Policy) MaxConnectionAttempts() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.maxConnectionAttempts
}

// SetMaxConnectionAttempts must be positive or UnlimitedAttempts.
func (p *Policy) SetMaxConnectionAttempts(attempts int) error {
	if attempts == 0 || attempts < UnlimitedAttempts {
		return fmt.Errorf("invalid amount of connection attempts %d", attempts)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.maxConnectionAttempts = attempts
	return nil
}

func (p *Policy) MaxClientConnections() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.maxClientConnections
}

// SetMaxClientConnections limits a server's registry, it must be positive.
func (p *Policy) SetMaxClientConnections(max int) error {
	if max <= 0 {
		return fmt.Errorf("invalid amount of client connections %d", max)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.maxClientConnections = max
	return nil
}

// Pipeline for the codec, using the given key.
func (p *Policy) Pipeline(key string) codec.Pipeline {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return codec.Pipeline{
		Crypto:      p.crypto,
		Key:         key,
		Compression: p.compression,
		Algorithm:   p.algorithm,
	}
}

// Policy keys for Values and Apply.
const (
	KeyHandshake             = "handshake"
	KeySecureSession         = "secure-session"
	KeyPassphrase            = "passphrase"
	KeyEncryption            = "encryption"
	KeyCompression           = "compression"
	KeyCompressionAlgorithm  = "compression-algorithm"
	KeyPayloadAware          = "payload-aware"
	KeyMarker                = "marker"
	KeyReceiveBufferSize     = "receive-buffer-size"
	KeyHandshakeTimeout      = "handshake-timeout"
	KeyReceiveTimeout        = "receive-timeout"
	KeyConnectTimeout        = "connect-timeout"
	KeyRetryDelay            = "retry-delay"
	KeyMaxConnectionAttempts = "max-connection-attempts"
	KeyMaxClientConnections  = "max-client-connections"
)

// Values exports this Policy as string values, e.g., to be persisted.
func (p *Policy) Values() map[string]string {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return map[string]string{
		KeyHandshake:             strconv.FormatBool(p.handshake),
		KeySecureSession:         strconv.FormatBool(p.secureSession),
		KeyPassphrase:            p.passphrase,
		KeyEncryption:            p.crypto.String(),
		KeyCompression:           p.compression.String(),
		KeyCompressionAlgorithm:  p.algorithm.String(),
		KeyPayloadAware:          strconv.FormatBool(p.payloadAware),
		KeyMarker:                hex.EncodeToString(p.marker),
		KeyReceiveBufferSize:     strconv.Itoa(p.receiveBufferSize),
		KeyHandshakeTimeout:      p.handshakeTimeout.String(),
		KeyReceiveTimeout:        p.receiveTimeout.String(),
		KeyConnectTimeout:        p.connectTimeout.String(),
		KeyRetryDelay:            p.retryDelay.String(),
		KeyMaxConnectionAttempts: strconv.Itoa(p.maxConnectionAttempts),
		KeyMaxClientConnections:  strconv.Itoa(p.maxClientConnections),
	}
}

// Apply values as created by Values. Unknown keys are reported as errors, missing keys remain unchanged. Either all
// values are applied or, in case of an error, none.
func (p *Policy) Apply(values map[string]string) error {
	candidate := p.Clone()

	var errs *multierror.Error
	for key, value := range values {
		if err := candidate.applyValue(key, value); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	if candidate.secureSession && (!candidate.handshake || candidate.crypto == codec.NoEncryption) {
		errs = multierror.Append(errs, ErrSecureSessionRequirements)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.isConnected() && candidate.receiveBufferSize != p.receiveBufferSize {
		return ErrConnected
	}

	p.handshake = candidate.handshake
	p.secureSession = candidate.secureSession
	p.passphrase = candidate.passphrase
	p.crypto = candidate.crypto
	p.compression = candidate.compression
	p.algorithm = candidate.algorithm
	p.payloadAware = candidate.payloadAware
	p.marker = candidate.marker
	p.receiveBufferSize = candidate.receiveBufferSize
	p.handshakeTimeout = candidate.handshakeTimeout
	p.receiveTimeout = candidate.receiveTimeout
	p.connectTimeout = candidate.connectTimeout
	p.retryDelay = candidate.retryDelay
	p.maxConnectionAttempts = candidate.maxConnectionAttempts
	p.maxClientConnections = candidate.maxClientConnections

	return nil
}

// applyValue sets a single field without checking cross-field invariants.
func (p *Policy) applyValue(key, value string) (err error) {
	switch key {
	case KeyHandshake:
		p.handshake, err = strconv.ParseBool(value)
	case KeySecureSession:
		p.secureSession, err = strconv.ParseBool(value)
	case KeyPassphrase:
		if err = checkPassphrase(value); err == nil {
			p.passphrase = value
		}
	case KeyEncryption:
		p.crypto, err = codec.ParseCryptoStrength(value)
	case KeyCompression:
		p.compression, err = codec.ParseCompressionStrength(value)
	case KeyCompressionAlgorithm:
		p.algorithm, err = codec.ParseCompressionAlgorithm(value)
	case KeyPayloadAware:
		p.payloadAware, err = strconv.ParseBool(value)
	case KeyMarker:
		var marker []byte
		if marker, err = hex.DecodeString(value); err == nil {
			if len(marker) == 0 {
				err = errors.New("marker must not be empty")
			} else {
				p.marker = marker
			}
		}
	case KeyReceiveBufferSize:
		var size int
		if size, err = strconv.Atoi(value); err == nil {
			if size <= 0 {
				err = fmt.Errorf("receive buffer size %d must be positive", size)
			} else {
				p.receiveBufferSize = size
			}
		}
	case KeyHandshakeTimeout:
		p.handshakeTimeout, err = time.ParseDuration(value)
	case KeyReceiveTimeout:
		p.receiveTimeout, err = time.ParseDuration(value)
	case KeyConnectTimeout:
		p.connectTimeout, err = time.ParseDuration(value)
	case KeyRetryDelay:
		p.retryDelay, err = time.ParseDuration(value)
	case KeyMaxConnectionAttempts:
		var attempts int
		if attempts, err = strconv.Atoi(value); err == nil {
			if attempts == 0 || attempts < UnlimitedAttempts {
				err = fmt.Errorf("invalid amount of connection attempts %d", attempts)
			} else {
				p.maxConnectionAttempts = attempts
			}
		}
	case KeyMaxClientConnections:
		var max int
		if max, err = strconv.Atoi(value); err == nil {
			if max <= 0 {
				err = fmt.Errorf("invalid amount of client connections %d", max)
			} else {
				p.maxClientConnections = max
			}
		}
	default:
		err = errors.New("unknown key")
	}
	return
}
