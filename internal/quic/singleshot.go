// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"time"
)

// Single-shot Emitters (C6, spec.md §4.6): packets built and sent
// outside the normal per-connection send_ctx/buildPacket machinery,
// because they either predate connection state (Version Negotiation,
// Retry, early CONNECTION_CLOSE) or outlive it (Stateless Reset). Like
// header.go these are assembled straight from the RFCs; none of them
// round-trip through the Packet Builder's framing.

// SendVersionNegotiation replies to a client packet naming an
// unsupported version with a Version Negotiation packet (RFC 9000
// §17.2.1): random form bit set, version 0, echoing the client's
// connection IDs, followed by the list of versions this engine speaks.
func SendVersionNegotiation(w datagramWriter, addr net.Addr, dcid, scid []byte, versions []uint32) error {
	var rnd [1]byte
	if _, err := rand.Read(rnd[:]); err != nil {
		return err
	}
	buf := make([]byte, 0, 1+4+1+len(dcid)+1+len(scid)+4*len(versions))
	buf = append(buf, 0x80|rnd[0]&0x7f)
	buf = append(buf, 0, 0, 0, 0) // version = 0
	buf = append(buf, byte(len(dcid)))
	buf = append(buf, dcid...)
	buf = append(buf, byte(len(scid)))
	buf = append(buf, scid...)
	for _, v := range versions {
		buf = append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	_, err := w.send(buf, addr)
	return err
}

// SendRetry replies to an Initial packet with a Retry packet (RFC 9000
// §17.2.5, spec.md §4.6): a Retry token issued by newRetryToken bound to
// addr and odcid, and a Retry Integrity Tag computed by the AEAD
// collaborator (keys here is only the static Retry AEAD, not a
// connection's negotiated keys, so it is supplied directly).
func SendRetry(w datagramWriter, keys Keys, addr net.Addr, avTokenKey [32]byte, version uint32, dcid, scid, odcid []byte) error {
	token, err := newRetryToken(avTokenKey, addr, odcid)
	if err != nil {
		return err
	}
	hdr := make([]byte, 0, 1+4+1+len(dcid)+1+len(scid)+len(token))
	hdr = append(hdr, longHeaderForm|byte(packetTypeRetry)<<4)
	hdr = append(hdr, byte(version>>24), byte(version>>16), byte(version>>8), byte(version))
	hdr = append(hdr, byte(len(dcid)))
	hdr = append(hdr, dcid...)
	hdr = append(hdr, byte(len(scid)))
	hdr = append(hdr, scid...)
	hdr = append(hdr, token...)

	pseudo := make([]byte, 0, 1+len(odcid)+len(hdr))
	pseudo = append(pseudo, byte(len(odcid)))
	pseudo = append(pseudo, odcid...)
	pseudo = append(pseudo, hdr...)
	tag := keys.Seal(nil, make([]byte, 12), nil, pseudo)

	buf := append(hdr, tag...)
	_, err = w.send(buf, addr)
	return err
}

// SendStatelessReset emits a Stateless Reset packet (RFC 9000 §10.3,
// spec.md §4.6): random bytes masquerading as a short header, ending in
// the 16-byte token derived from dcid. triggerLen is the size of the
// datagram that provoked this reset. Mirrors
// ngx_quic_send_stateless_reset: a trigger at or below minPacketLen is
// declined outright (too small to safely respond to at all); a trigger
// at or below minStatelessReset gets a fixed trigger-1 length, the one
// case where the response must stay strictly smaller than what
// provoked it; otherwise the total length is drawn uniformly at random
// from [minStatelessReset, min(minimumInitialDatagramSize, 3*triggerLen)]
// so the response size carries no fixed fingerprint (it may exceed
// triggerLen here — the 3x aggregate anti-amplification bound is
// tracked at the connection level, not per packet).
func SendStatelessReset(w datagramWriter, addr net.Addr, srTokenKey [32]byte, dcid []byte, triggerLen int) error {
	if triggerLen <= minPacketLen {
		return declinef("triggering datagram too small for a safe stateless reset")
	}

	var total int
	if triggerLen <= minStatelessReset {
		total = triggerLen - 1
	} else {
		max := minimumInitialDatagramSize
		if triggerLen*3 < max {
			max = triggerLen * 3
		}
		n, err := randIntn(max - minStatelessReset + 1)
		if err != nil {
			return err
		}
		total = n + minStatelessReset
	}

	tok := statelessResetToken(srTokenKey, dcid)
	buf := make([]byte, total)
	if _, err := rand.Read(buf[:total-16]); err != nil {
		return err
	}
	buf[0] = (buf[0] & 0x3f) | 0x40 // clear form/fixed bits to look like a short header
	copy(buf[total-16:], tok[:])
	_, err := w.send(buf, addr)
	return err
}

// randIntn returns a uniform random int in [0, n) via crypto/rand,
// avoiding the modulo bias a plain binary.Read % n would introduce.
func randIntn(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	limit := uint32(n)
	ceil := (1<<32)/uint64(limit)*uint64(limit) - 1
	for {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		v := uint64(binary.BigEndian.Uint32(buf[:]))
		if v <= ceil {
			return int(v % uint64(limit)), nil
		}
	}
}

// SendEarlyConnectionClose emits a CONNECTION_CLOSE packet before any
// Conn exists to hold send_ctx state (spec.md §4.6 "Early
// CONNECTION_CLOSE"): used to reject a connection attempt (e.g. version
// mismatch after Retry, resource exhaustion) with a single packet built
// directly against a throwaway numberSpace context.
func SendEarlyConnectionClose(w datagramWriter, keys Keys, addr net.Addr, level numberSpace, id packetIdentity, errorCode uint64, reason string) error {
	ctx := newSendContext(level)
	ctx.enqueue(newConnectionCloseFrame(false, errorCode, reason))
	buf := make([]byte, minimumInitialDatagramSize)
	n := buildPacket(ctx, keys, id, buf, minimumInitialDatagramSize, minimumInitialDatagramSize)
	if n == 0 {
		return ErrShortBuffer
	}
	_, err := w.send(buf[:n], addr)
	return err
}

// SendConnectionClose is send_cc (spec.md §4.6): the rate-limited normal
// path for closing an established connection, distinct from
// SendEarlyConnectionClose in that it runs through the connection's own
// send_ctx/keys and is throttled to at most one emission per
// ccMinInterval (RFC 9000 §10.2.1 "Immediate Close" rate limiting,
// avoiding an amplification/reflection loop against a spoofed peer that
// keeps retransmitting into the closed connection).
func (c *Conn) SendConnectionClose(now time.Time, errorCode uint64, reason string, app bool) error {
	if !c.lastCC.IsZero() && now.Sub(c.lastCC) < ccMinInterval {
		return nil
	}
	level := appDataSpace
	if c.err != nil {
		level = c.err.Level
	}
	ctx := c.send[level]
	ctx.enqueue(newConnectionCloseFrame(app, errorCode, reason))

	snap := ctx.snapshot()
	buf := make([]byte, maxUDPPayloadSize)
	n := buildPacket(ctx, c.keys[level], c.identity(level), buf, maxUDPPayloadSize, minPacketLen)
	if n == 0 {
		ctx.revert(snap)
		return ErrShortBuffer
	}
	if _, err := c.writer.send(buf[:n], c.peerAddr); err != nil {
		ctx.revert(snap)
		return err
	}
	ctx.commit(true)
	c.lastCC = now
	c.closing = true
	return nil
}

// SendNewToken enqueues a NEW_TOKEN frame (spec.md §4.6) carrying a
// fresh token from newNewToken, to be coalesced into the next
// Application-level datagram by the normal Output path — NEW_TOKEN is
// not itself single-shot in the sense of bypassing send_ctx, but its
// token issuance is grouped with the other token operations here
// because it shares newNewToken/newRetryToken's AEAD machinery.
func (c *Conn) SendNewToken() error {
	token, err := newNewToken(c.cfg.AvTokenKey, c.peerAddr)
	if err != nil {
		return err
	}
	c.send[appDataSpace].enqueue(newNewTokenFrame(token))
	return nil
}

// SendAck enqueues an ACK frame built from the ACK-range bookkeeping
// collaborator's output (out of scope per spec.md §1), at high priority
// so it is never starved by bulk stream data (spec.md §4.2's
// lastPriority bypass).
func (c *Conn) SendAck(level numberSpace, ranges []ackRange, ackDelay uint64) {
	c.send[level].enqueuePriority(newAckFrame(ranges, ackDelay))
}
