// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package codec

import (
	"fmt"
	"strings"
)

// CompressionStrength selects how hard a payload is compressed. NoCompression disables compression.
type CompressionStrength int

const (
	NoCompression CompressionStrength = iota
	Fastest
	Optimal
	SmallestSize
)

func (cs CompressionStrength) String() string {
	switch cs {
	case NoCompression:
		return "none"
	case Fastest:
		return "fastest"
	case Optimal:
		return "optimal"
	case SmallestSize:
		return "smallest"
	default:
		return fmt.Sprintf("unknown compression strength %d", int(cs))
	}
}

var compressionStrengths = []CompressionStrength{NoCompression, Fastest, Optimal, SmallestSize}

// Valid reports if cs is one of the defined CompressionStrengths.
func (cs CompressionStrength) Valid() bool {
	return cs >= NoCompression && cs <= SmallestSize
}

// ParseCompressionStrength from its String representation, case-insensitive.
func ParseCompressionStrength(s string) (CompressionStrength, error) {
	for _, cs := range compressionStrengths {
		if strings.EqualFold(s, cs.String()) {
			return cs, nil
		}
	}
	return NoCompression, fmt.Errorf("unknown compression strength %q", s)
}

// CompressionAlgorithm names the compression format in use.
type CompressionAlgorithm int

const (
	Zstd CompressionAlgorithm = iota
	Flate
	XZ
)

func (ca CompressionAlgorithm) String() string {
	switch ca {
	case Zstd:
		return "zstd"
	case Flate:
		return "flate"
	case XZ:
		return "xz"
	default:
		return fmt.Sprintf("unknown compression algorithm %d", int(ca))
	}
}

// ParseCompressionAlgorithm from its String representation, case-insensitive.
func ParseCompressionAlgorithm(s string) (CompressionAlgorithm, error) {
	for _, ca := range []CompressionAlgorithm{Zstd, Flate, XZ} {
		if strings.EqualFold(s, ca.String()) {
			return ca, nil
		}
	}
	return Zstd, fmt.Errorf("unknown compression algorithm %q", s)
}

// CryptoStrength selects the cipher. NoEncryption disables encryption.
type CryptoStrength int

const (
	NoEncryption CryptoStrength = iota
	AES128
	AES192
	AES256
	XChaCha20
)

func (cs CryptoStrength) String() string {
	switch cs {
	case NoEncryption:
		return "none"
	case AES128:
		return "aes128"
	case AES192:
		return "aes192"
	case AES256:
		return "aes256"
	case XChaCha20:
		return "xchacha20"
	default:
		return fmt.Sprintf("unknown crypto strength %d", int(cs))
	}
}

// ParseCryptoStrength from its String representation, case-insensitive.
func ParseCryptoStrength(s string) (CryptoStrength, error) {
	for _, cs := range []CryptoStrength{NoEncryption, AES128, AES192, AES256, XChaCha20} {
		if strings.EqualFold(s, cs.String()) {
			return cs, nil
		}
	}
	return NoEncryption, fmt.Errorf("unknown crypto strength %q", s)
}

// keySize of the symmetric key for this CryptoStrength in bytes.
func (cs CryptoStrength) keySize() int {
	switch cs {
	case AES128:
		return 16
	case AES192:
		return 24
	default:
		return 32
	}
}
