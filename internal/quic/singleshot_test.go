// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"net"
	"testing"
	"time"
)

func TestSendVersionNegotiation(t *testing.T) {
	w := &fakeWriter{}
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	dcid := []byte{1, 2, 3}
	scid := []byte{4, 5}
	if err := SendVersionNegotiation(w, addr, dcid, scid, []uint32{1, 0x6b3343cf}); err != nil {
		t.Fatalf("SendVersionNegotiation: %v", err)
	}
	if len(w.sent) != 1 {
		t.Fatalf("writer saw %d sends, want 1", len(w.sent))
	}
	buf := w.sent[0]
	if buf[0]&0x80 == 0 {
		t.Errorf("first byte %#x does not have the long-header form bit set", buf[0])
	}
	if buf[1] != 0 || buf[2] != 0 || buf[3] != 0 || buf[4] != 0 {
		t.Errorf("version field = %x, want all-zero", buf[1:5])
	}
	if buf[5] != byte(len(dcid)) {
		t.Errorf("DCID length = %d, want %d", buf[5], len(dcid))
	}
}

func TestSendRetry(t *testing.T) {
	w := &fakeWriter{}
	keys := testKeys(t)
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	var avKey [32]byte
	dcid := []byte{1, 2, 3, 4}
	scid := []byte{5, 6, 7, 8}
	odcid := []byte{9, 9, 9, 9}

	if err := SendRetry(w, keys, addr, avKey, 1, dcid, scid, odcid); err != nil {
		t.Fatalf("SendRetry: %v", err)
	}
	if len(w.sent) != 1 {
		t.Fatalf("writer saw %d sends, want 1", len(w.sent))
	}
	buf := w.sent[0]
	if packetType((buf[0]>>4)&0x03) != packetTypeRetry {
		t.Errorf("packet type = %d, want packetTypeRetry", (buf[0]>>4)&0x03)
	}
	// Last 16 bytes are the integrity tag; everything before is the
	// Retry header (including the embedded token).
	if len(buf) < 16+1+4+1+len(dcid)+1+len(scid) {
		t.Fatalf("Retry packet too short: %d bytes", len(buf))
	}
}

func TestSendStatelessResetDeclinesTinyTrigger(t *testing.T) {
	w := &fakeWriter{}
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	var srKey [32]byte
	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	err := SendStatelessReset(w, addr, srKey, dcid, minPacketLen)
	if err == nil || !Declined(err) {
		t.Fatalf("SendStatelessReset with trigger=minPacketLen = %v, want a declined error", err)
	}
	if len(w.sent) != 0 {
		t.Errorf("writer saw %d sends for a declined reset, want 0", len(w.sent))
	}
}

func TestSendStatelessResetSmallTriggerUsesTriggerMinusOne(t *testing.T) {
	w := &fakeWriter{}
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	var srKey [32]byte
	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	trigger := minStatelessReset // == minStatelessReset, so the small-case path applies
	if err := SendStatelessReset(w, addr, srKey, dcid, trigger); err != nil {
		t.Fatalf("SendStatelessReset: %v", err)
	}
	buf := w.sent[0]
	if len(buf) != trigger-1 {
		t.Errorf("Stateless Reset length = %d, want %d (trigger-1)", len(buf), trigger-1)
	}
	want := statelessResetToken(srKey, dcid)
	got := buf[len(buf)-16:]
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("trailing 16 bytes = %x, want stateless reset token %x", got, want)
		}
	}
	if buf[0]&0xc0 != 0x40 {
		t.Errorf("first byte %#x does not look like a short header (form/fixed bits)", buf[0])
	}
}

func TestSendStatelessResetLargeTriggerRandomizesWithinBounds(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	var srKey [32]byte
	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	trigger := 500
	maxWant := trigger * 3
	if maxWant > minimumInitialDatagramSize {
		maxWant = minimumInitialDatagramSize
	}

	lengths := map[int]bool{}
	for i := 0; i < 20; i++ {
		w := &fakeWriter{}
		if err := SendStatelessReset(w, addr, srKey, dcid, trigger); err != nil {
			t.Fatalf("SendStatelessReset: %v", err)
		}
		n := len(w.sent[0])
		if n < minStatelessReset || n > maxWant {
			t.Fatalf("Stateless Reset length = %d, want in [%d, %d]", n, minStatelessReset, maxWant)
		}
		lengths[n] = true
	}
	if len(lengths) == 1 {
		t.Errorf("SendStatelessReset produced the same length across 20 calls, want randomization within [%d, %d]", minStatelessReset, maxWant)
	}
}

func TestSendEarlyConnectionClose(t *testing.T) {
	w := &fakeWriter{}
	keys := testKeys(t)
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	id := packetIdentity{version: 1, dcid: []byte{1, 2, 3, 4}, scid: []byte{5, 6, 7, 8}}

	if err := SendEarlyConnectionClose(w, keys, addr, initialSpace, id, 0x01, "version mismatch"); err != nil {
		t.Fatalf("SendEarlyConnectionClose: %v", err)
	}
	if len(w.sent) != 1 {
		t.Fatalf("writer saw %d sends, want 1", len(w.sent))
	}
	if len(w.sent[0]) != minimumInitialDatagramSize {
		t.Errorf("early CONNECTION_CLOSE datagram length = %d, want %d", len(w.sent[0]), minimumInitialDatagramSize)
	}
}

func TestSendConnectionCloseRateLimited(t *testing.T) {
	w := &fakeWriter{}
	c := newTestConnForPacker(t, w)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := c.SendConnectionClose(now, 0x0a, "bye", false); err != nil {
		t.Fatalf("first SendConnectionClose: %v", err)
	}
	if len(w.sent) != 1 {
		t.Fatalf("writer saw %d sends after first close, want 1", len(w.sent))
	}
	if !c.closing {
		t.Errorf("c.closing = false after SendConnectionClose")
	}

	// A second attempt inside ccMinInterval must be suppressed.
	if err := c.SendConnectionClose(now.Add(ccMinInterval/2), 0x0a, "bye", false); err != nil {
		t.Fatalf("second SendConnectionClose: %v", err)
	}
	if len(w.sent) != 1 {
		t.Errorf("writer saw %d sends after rate-limited retry, want still 1", len(w.sent))
	}

	// After the interval elapses, a new CONNECTION_CLOSE may go out.
	if err := c.SendConnectionClose(now.Add(2*ccMinInterval), 0x0a, "bye", false); err != nil {
		t.Fatalf("third SendConnectionClose: %v", err)
	}
	if len(w.sent) != 2 {
		t.Errorf("writer saw %d sends after interval elapsed, want 2", len(w.sent))
	}
}

func TestSendNewTokenEnqueuesFrame(t *testing.T) {
	w := &fakeWriter{}
	c := newTestConnForPacker(t, w)
	if err := c.SendNewToken(); err != nil {
		t.Fatalf("SendNewToken: %v", err)
	}
	if c.send[appDataSpace].empty() {
		t.Errorf("send context empty after SendNewToken, want a NEW_TOKEN frame queued")
	}
}

func TestSendAckEnqueuesPriorityFrame(t *testing.T) {
	w := &fakeWriter{}
	c := newTestConnForPacker(t, w)
	before := c.send[appDataSpace].lastPriority
	c.SendAck(appDataSpace, []ackRange{{largest: 10, smallest: 8}}, 0)
	if c.send[appDataSpace].empty() {
		t.Errorf("send context empty after SendAck, want an ACK frame queued")
	}
	if c.send[appDataSpace].lastPriority != before+1 {
		t.Errorf("lastPriority after SendAck = %d, want %d", c.send[appDataSpace].lastPriority, before+1)
	}
}
