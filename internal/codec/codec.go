// Package codec turns raw BLE notification payloads into typed sensor
// frames. Packets are ChaCha20-Poly1305 sealed (12-byte nonce prefix, tag
// suffix) around a zstd-compressed fixed-layout body. Decoding is a pure
// function over the packet bytes and is safe for concurrent use.
package codec

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"

	"vitalguard/internal/model"
)

var (
	ErrDecryptFailed    = errors.New("codec: decrypt failed")
	ErrDecompressFailed = errors.New("codec: decompress failed")
	ErrMalformedPayload = errors.New("codec: malformed payload")
)

type Codec struct {
	aead cipher.AEAD
	dec  *zstd.Decoder
	enc  *zstd.Encoder
}

// New builds a codec from a 32-byte key. KeyFromHex helps with config keys.
func New(key []byte) (*Codec, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("codec: build cipher: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("codec: build decompressor: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("codec: build compressor: %w", err)
	}
	return &Codec{aead: aead, dec: dec, enc: enc}, nil
}

func KeyFromHex(keyHex string) ([]byte, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("codec: decode key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("codec: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

// Decode decrypts, decompresses and parses one packet. Failures at any
// stage reject the whole frame; the caller drops it and moves on, since the
// device stream has already advanced past it.
func (c *Codec) Decode(raw []byte, kind model.FrameKind) (model.SensorFrame, error) {
	if len(raw) < chacha20poly1305.NonceSize+c.aead.Overhead() {
		return model.SensorFrame{}, fmt.Errorf("%w: packet too short (%d bytes)", ErrDecryptFailed, len(raw))
	}
	nonce := raw[:chacha20poly1305.NonceSize]
	compressed, err := c.aead.Open(nil, nonce, raw[chacha20poly1305.NonceSize:], []byte(kind))
	if err != nil {
		return model.SensorFrame{}, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	body, err := c.dec.DecodeAll(compressed, nil)
	if err != nil {
		return model.SensorFrame{}, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}
	frame, err := parseBody(body, kind)
	if err != nil {
		return model.SensorFrame{}, err
	}
	frame.Timestamp = time.Now().UTC()
	return frame, nil
}

// Encode is the inverse of Decode: compress the frame's wire body, then
// seal it under a fresh random nonce. Used by device simulators and the
// round-trip tests; the production path only decodes.
func (c *Codec) Encode(frame model.SensorFrame) ([]byte, error) {
	body, err := encodeBody(frame)
	if err != nil {
		return nil, err
	}
	compressed := c.enc.EncodeAll(body, nil)
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("codec: nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, compressed, []byte(frame.Kind)), nil
}
