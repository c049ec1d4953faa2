// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package codec

import "fmt"

// Pipeline bundles the per-session parameters for ProcessTransmit and ProcessReceive.
type Pipeline struct {
	Crypto      CryptoStrength
	Key         string
	Compression CompressionStrength
	Algorithm   CompressionAlgorithm
}

// Transmit compresses and then encrypts data.
func (p Pipeline) Transmit(data []byte) ([]byte, error) {
	return ProcessTransmit(data, p.Crypto, p.Key, p.Compression, p.Algorithm)
}

// Receive decrypts and then decompresses data.
func (p Pipeline) Receive(data []byte) ([]byte, error) {
	return ProcessReceive(data, p.Crypto, p.Key, p.Compression, p.Algorithm)
}

// WithKey returns a copy of this Pipeline using another key.
func (p Pipeline) WithKey(key string) Pipeline {
	p.Key = key
	return p
}

func (p Pipeline) String() string {
	return fmt.Sprintf("%v/%v+%v", p.Compression, p.Algorithm, p.Crypto)
}

// ProcessTransmit compresses data first and encrypts the result afterwards. Disabled steps are skipped.
func ProcessTransmit(data []byte, crypto CryptoStrength, key string, compression CompressionStrength, algorithm CompressionAlgorithm) ([]byte, error) {
	compressed, err := Compress(data, compression, algorithm)
	if err != nil {
		return nil, fmt.Errorf("compressing payload failed: %w", err)
	}

	encrypted, err := Encrypt(compressed, key, crypto)
	if err != nil {
		return nil, fmt.Errorf("encrypting payload failed: %w", err)
	}

	return encrypted, nil
}

// ProcessReceive is the inverse of ProcessTransmit: data is decrypted first and decompressed afterwards.
func ProcessReceive(data []byte, crypto CryptoStrength, key string, compression CompressionStrength, algorithm CompressionAlgorithm) ([]byte, error) {
	decrypted, err := Decrypt(data, key, crypto)
	if err != nil {
		return nil, err
	}

	decompressed, err := Decompress(decrypted, compression, algorithm)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload failed: %w", err)
	}

	return decompressed, nil
}
