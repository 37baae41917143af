// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"net"
	"time"
)

// Retry and NEW_TOKEN tokens are AEAD-sealed blobs binding the token to
// the remote address and an expiry, exactly the shape spec.md §4.6 and
// §6 describe (av_token_key, RETRY_TOKEN_LIFETIME, NEW_TOKEN_LIFETIME).
// As with the packet AEAD (keys.go), this is primitive crypto
// (AES-256-GCM over a small fixed record), not a concern any example
// repo in the corpus reaches for a third-party library to cover.

// tokenKind distinguishes Retry tokens (which carry an ODCID) from
// NEW_TOKEN tokens (which don't).
type tokenKind byte

const (
	tokenKindRetry    tokenKind = 1
	tokenKindNewToken tokenKind = 2
)

func sealToken(key [32]byte, kind tokenKind, addr net.Addr, odcid []byte, expires time.Time) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	addrBytes := []byte(addr.String())
	plain := make([]byte, 0, 1+8+1+len(odcid)+2+len(addrBytes))
	plain = append(plain, byte(kind))
	var expBuf [8]byte
	binary.BigEndian.PutUint64(expBuf[:], uint64(expires.Unix()))
	plain = append(plain, expBuf[:]...)
	plain = append(plain, byte(len(odcid)))
	plain = append(plain, odcid...)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(addrBytes)))
	plain = append(plain, lenBuf[:]...)
	plain = append(plain, addrBytes...)

	out := make([]byte, 0, len(nonce)+len(plain)+gcm.Overhead())
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plain, nil)
	return out, nil
}

// openToken validates and decodes a token produced by sealToken,
// checking it matches kind, addr, and has not expired.
func openToken(key [32]byte, kind tokenKind, addr net.Addr, token []byte) (odcid []byte, err error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(token) < gcm.NonceSize() {
		return nil, errors.New("quic: token too short")
	}
	nonce, ct := token[:gcm.NonceSize()], token[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errors.New("quic: token authentication failed")
	}
	if len(plain) < 1+8+1 {
		return nil, errors.New("quic: token malformed")
	}
	if tokenKind(plain[0]) != kind {
		return nil, errors.New("quic: token kind mismatch")
	}
	expires := time.Unix(int64(binary.BigEndian.Uint64(plain[1:9])), 0)
	if time.Now().After(expires) {
		return nil, errors.New("quic: token expired")
	}
	odcidLen := int(plain[9])
	rest := plain[10:]
	if len(rest) < odcidLen+2 {
		return nil, errors.New("quic: token malformed")
	}
	odcid = rest[:odcidLen]
	rest = rest[odcidLen:]
	addrLen := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if len(rest) < addrLen {
		return nil, errors.New("quic: token malformed")
	}
	if string(rest[:addrLen]) != addr.String() {
		return nil, errors.New("quic: token address mismatch")
	}
	return odcid, nil
}

// newRetryToken issues a Retry token (spec.md §4.6): bound to addr and
// odcid, valid for RETRY_TOKEN_LIFETIME.
func newRetryToken(key [32]byte, addr net.Addr, odcid []byte) ([]byte, error) {
	return sealToken(key, tokenKindRetry, addr, odcid, time.Now().Add(retryTokenLifetime))
}

// newNewToken issues a NEW_TOKEN frame's token (spec.md §4.6), valid for
// NEW_TOKEN_LIFETIME, bound to addr.
func newNewToken(key [32]byte, addr net.Addr) ([]byte, error) {
	return sealToken(key, tokenKindNewToken, addr, nil, time.Now().Add(newTokenLifetime))
}

// statelessResetToken derives the 16-byte Stateless Reset token for a
// connection ID, RFC 9000 §10.3: HMAC-SHA256(sr_token_key, dcid)[:16].
// Deterministic in dcid so the same token is produced whenever this
// connection's stateless-reset packet must be regenerated after the
// connection state itself has been discarded.
func statelessResetToken(key [32]byte, dcid []byte) [16]byte {
	mac := hmac.New(sha256.New, key[:])
	mac.Write(dcid)
	sum := mac.Sum(nil)
	var tok [16]byte
	copy(tok[:], sum)
	return tok
}
