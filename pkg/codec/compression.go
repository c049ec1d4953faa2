// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

var (
	zstdOnce     sync.Once
	zstdEncoders map[CompressionStrength]*zstd.Encoder
	zstdDecoder  *zstd.Decoder
	zstdErr      error
)

// zstdCodecs lazily creates the shared zstd encoders and decoder. Both support concurrent EncodeAll and DecodeAll.
func zstdCodecs() error {
	zstdOnce.Do(func() {
		levels := map[CompressionStrength]zstd.EncoderLevel{
			Fastest:      zstd.SpeedFastest,
			Optimal:      zstd.SpeedDefault,
			SmallestSize: zstd.SpeedBestCompression,
		}

		zstdEncoders = make(map[CompressionStrength]*zstd.Encoder, len(levels))
		for cs, level := range levels {
			enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
			if err != nil {
				zstdErr = err
				return
			}
			zstdEncoders[cs] = enc
		}

		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayloadSize))
	})
	return zstdErr
}

func flateLevel(cs CompressionStrength) int {
	switch cs {
	case Fastest:
		return flate.BestSpeed
	case SmallestSize:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}

func xzDictCap(cs CompressionStrength) int {
	switch cs {
	case Fastest:
		return 256 << 10
	case SmallestSize:
		return 8 << 20
	default:
		return 1 << 20
	}
}

// Compress data with the given algorithm. NoCompression returns the data itself.
func Compress(data []byte, strength CompressionStrength, algorithm CompressionAlgorithm) ([]byte, error) {
	if !strength.Valid() {
		return nil, fmt.Errorf("compression: %v", strength)
	} else if strength == NoCompression {
		return data, nil
	}

	switch algorithm {
	case Zstd:
		if err := zstdCodecs(); err != nil {
			return nil, err
		}
		enc, ok := zstdEncoders[strength]
		if !ok {
			return nil, fmt.Errorf("compression: no zstd encoder for %v", strength)
		}
		return enc.EncodeAll(data, nil), nil

	case Flate:
		buff := new(bytes.Buffer)
		w, err := flate.NewWriter(buff, flateLevel(strength))
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buff.Bytes(), nil

	case XZ:
		buff := new(bytes.Buffer)
		w, err := xz.WriterConfig{DictCap: xzDictCap(strength)}.NewWriter(buff)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buff.Bytes(), nil

	default:
		return nil, fmt.Errorf("compression: %v", algorithm)
	}
}

// Decompress data previously compressed with the same algorithm. NoCompression returns the data itself.
func Decompress(data []byte, strength CompressionStrength, algorithm CompressionAlgorithm) ([]byte, error) {
	if !strength.Valid() {
		return nil, fmt.Errorf("decompression: %v", strength)
	} else if strength == NoCompression {
		return data, nil
	}

	var r io.Reader
	switch algorithm {
	case Zstd:
		if err := zstdCodecs(); err != nil {
			return nil, err
		}
		return zstdDecoder.DecodeAll(data, nil)

	case Flate:
		fr := flate.NewReader(bytes.NewReader(data))
		defer fr.Close()
		r = fr

	case XZ:
		xr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		r = xr

	default:
		return nil, fmt.Errorf("decompression: %v", algorithm)
	}

	out, err := io.ReadAll(io.LimitReader(r, MaxPayloadSize+1))
	if err != nil {
		return nil, err
	} else if len(out) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: decompressed data exceeds %d bytes", ErrInvalidLength, MaxPayloadSize)
	}
	return out, nil
}
