// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// ErrDecryption is returned if a ciphertext could not be authenticated, e.g., because of a wrong key.
var ErrDecryption = errors.New("decryption failed")

// keyDerivationSalt binds derived keys to this protocol.
var keyDerivationSalt = []byte("sockline payload key")

// SessionKeySize is the amount of random bytes of a generated session key.
const SessionKeySize = 32

// deriveKey stretches a passphrase into a key of the given size by HKDF-SHA3-256.
func deriveKey(passphrase string, size int) ([]byte, error) {
	kdf := hkdf.New(sha3.New256, []byte(passphrase), keyDerivationSalt, nil)
	key := make([]byte, size)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

// newAEAD for the CryptoStrength, keyed by the passphrase.
func newAEAD(passphrase string, strength CryptoStrength) (cipher.AEAD, error) {
	key, err := deriveKey(passphrase, strength.keySize())
	if err != nil {
		return nil, err
	}

	switch strength {
	case AES128, AES192, AES256:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)

	case XChaCha20:
		return chacha20poly1305.NewX(key)

	default:
		return nil, fmt.Errorf("cipher: %v", strength)
	}
}

// Encrypt data, resulting in the nonce followed by the sealed data. NoEncryption returns the data itself.
func Encrypt(data []byte, key string, strength CryptoStrength) ([]byte, error) {
	if strength == NoEncryption {
		return data, nil
	}

	aead, err := newAEAD(key, strength)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(data)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return aead.Seal(nonce, nonce, data, nil), nil
}

// Decrypt data created by Encrypt. NoEncryption returns the data itself.
func Decrypt(data []byte, key string, strength CryptoStrength) ([]byte, error) {
	if strength == NoEncryption {
		return data, nil
	}

	aead, err := newAEAD(key, strength)
	if err != nil {
		return nil, err
	}

	if len(data) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext of %d bytes is too short", ErrDecryption, len(data))
	}

	nonce, sealed := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plain, nil
}

// GenerateSessionKey creates a random, hex encoded key for a secure session.
func GenerateSessionKey() (string, error) {
	key := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
