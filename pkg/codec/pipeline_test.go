// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package codec

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestProcessInverse(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	random := make([]byte, 10000)
	rnd.Read(random)

	payloads := [][]byte{
		{},
		[]byte("hello"),
		bytes.Repeat([]byte("sockline "), 1000),
		random,
	}
	keys := []string{"", "secret", "a much longer passphrase with some spaces"}

	cryptos := []CryptoStrength{NoEncryption, AES128, AES192, AES256, XChaCha20}
	compressions := []CompressionStrength{NoCompression, Fastest, Optimal, SmallestSize}
	algorithms := []CompressionAlgorithm{Zstd, Flate, XZ}

	for _, crypto := range cryptos {
		for _, compression := range compressions {
			for _, algorithm := range algorithms {
				for _, key := range keys {
					for _, payload := range payloads {
						p := Pipeline{Crypto: crypto, Key: key, Compression: compression, Algorithm: algorithm}

						tx, err := p.Transmit(payload)
						if err != nil {
							t.Fatalf("%v: transmit failed: %v", p, err)
						}

						rx, err := p.Receive(tx)
						if err != nil {
							t.Fatalf("%v: receive failed: %v", p, err)
						}

						if !bytes.Equal(rx, payload) {
							t.Fatalf("%v: received payload differs", p)
						}
					}
				}
			}
		}
	}
}

func TestProcessPassThrough(t *testing.T) {
	payload := []byte("unchanged")

	tx, err := ProcessTransmit(payload, NoEncryption, "key", NoCompression, Zstd)
	if err != nil {
		t.Fatal(err)
	}
	if &tx[0] != &payload[0] {
		t.Fatal("Pass-through transmission copied the payload")
	}

	rx, err := ProcessReceive(tx, NoEncryption, "key", NoCompression, Zstd)
	if err != nil {
		t.Fatal(err)
	}
	if &rx[0] != &payload[0] {
		t.Fatal("Pass-through reception copied the payload")
	}
}

func TestCompressShrinks(t *testing.T) {
	payload := bytes.Repeat([]byte{0x23}, 1<<16)

	for _, algorithm := range []CompressionAlgorithm{Zstd, Flate, XZ} {
		out, err := Compress(payload, Optimal, algorithm)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) >= len(payload) {
			t.Fatalf("%v did not compress repetitive data: %d >= %d", algorithm, len(out), len(payload))
		}
	}
}

func TestCompressUndefinedStrength(t *testing.T) {
	for _, algorithm := range []CompressionAlgorithm{Zstd, Flate, XZ} {
		for _, strength := range []CompressionStrength{-1, SmallestSize + 1} {
			if _, err := Compress([]byte("data"), strength, algorithm); err == nil {
				t.Fatalf("%v: compressing with %v succeeded", algorithm, strength)
			}
			if _, err := Decompress([]byte("data"), strength, algorithm); err == nil {
				t.Fatalf("%v: decompressing with %v succeeded", algorithm, strength)
			}
		}
	}

	p := Pipeline{Compression: CompressionStrength(42), Algorithm: Zstd}
	if _, err := p.Transmit([]byte("data")); err == nil {
		t.Fatal("Pipeline with an undefined compression strength transmitted")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	for _, crypto := range []CryptoStrength{AES128, AES192, AES256, XChaCha20} {
		tx, err := Encrypt([]byte("confidential"), "key one", crypto)
		if err != nil {
			t.Fatal(err)
		}

		if _, err := Decrypt(tx, "key two", crypto); !errors.Is(err, ErrDecryption) {
			t.Fatalf("%v: decryption with a wrong key resulted in %v", crypto, err)
		}
	}
}

func TestDecryptTruncated(t *testing.T) {
	if _, err := Decrypt([]byte{0x01, 0x02}, "key", AES256); !errors.Is(err, ErrDecryption) {
		t.Fatalf("Decrypting a truncated ciphertext resulted in %v", err)
	}
}

func TestGenerateSessionKey(t *testing.T) {
	k1, err := GenerateSessionKey()
	if err != nil {
		t.Fatal(err)
	}
	k2, err := GenerateSessionKey()
	if err != nil {
		t.Fatal(err)
	}

	if len(k1) != 2*SessionKeySize {
		t.Fatalf("Session key has length %d", len(k1))
	}
	if k1 == k2 {
		t.Fatal("Two session keys are equal")
	}
}

func TestParseStrengths(t *testing.T) {
	if cs, err := ParseCryptoStrength("AES256"); err != nil || cs != AES256 {
		t.Fatalf("ParseCryptoStrength: %v, %v", cs, err)
	}
	if cs, err := ParseCompressionStrength("Optimal"); err != nil || cs != Optimal {
		t.Fatalf("ParseCompressionStrength: %v, %v", cs, err)
	}
	if ca, err := ParseCompressionAlgorithm("XZ"); err != nil || ca != XZ {
		t.Fatalf("ParseCompressionAlgorithm: %v, %v", ca, err)
	}
	if _, err := ParseCryptoStrength("rot13"); err == nil {
		t.Fatal("Parsing an unknown cipher succeeded")
	}
}
