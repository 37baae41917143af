// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "time"

// pmtuState is the PMTU Prober's (C5) binary-search state, spec.md §4.5.
type pmtuState struct {
	minProbeLength       int
	maxProbeLength       int
	lastProbeLength      int
	nextProbeAt          packetNumber
	packetsBetweenProbes packetNumber
	remainingProbeCount  int
	process              bool // true while one probe is in flight
}

func newPMTUState(min, max int) pmtuState {
	return pmtuState{
		minProbeLength:       min,
		maxProbeLength:       max,
		packetsBetweenProbes: 1,
		remainingProbeCount:  8,
	}
}

// shouldProbe implements spec.md §4.5's eligibility predicate.
func (m *pmtuState) shouldProbe(largestSentPnum packetNumber) bool {
	return !m.process &&
		m.minProbeLength < m.maxProbeLength &&
		m.remainingProbeCount > 0 &&
		largestSentPnum >= m.nextProbeAt
}

// nextProbeLength implements spec.md §4.5's "next probe length" rule.
func (m *pmtuState) nextProbeLength() int {
	normal := (m.minProbeLength + m.maxProbeLength + 1) / 2
	if m.remainingProbeCount == 1 && normal > m.lastProbeLength {
		return m.maxProbeLength
	}
	return normal
}

// getUpdatedProbeSize narrows the binary search after a probe is sent:
// if the chosen length repeats the previous one, that's implicit loss
// information and max is lowered to it (spec.md §4.5 "Emission").
func (m *pmtuState) getUpdatedProbeSize(length int) {
	if length == m.lastProbeLength {
		m.maxProbeLength = length
	}
	m.lastProbeLength = length
}

// onAck implements spec.md §4.5's mtu_ack.
func (m *pmtuState) onAck(f *Frame) {
	if f.plen > m.minProbeLength {
		m.minProbeLength = f.plen
	}
	m.process = false
}

// onLoss implements spec.md §4.5's mtu_lost: clear process only. The
// next probe will choose a smaller length because lastProbeLength is
// unchanged and getUpdatedProbeSize's equality rule lowers max on the
// next attempt.
func (m *pmtuState) onLoss(f *Frame) {
	m.process = false
}

func (m *pmtuState) done() bool {
	return m.minProbeLength == m.maxProbeLength || m.remainingProbeCount == 0
}

// maybeProbe is invoked by Output (C4 step 4) after every successful
// flush when MTU discovery is configured (spec.md §4.4, §4.5).
func (c *Conn) maybeProbe(now time.Time) {
	largestSent := c.send[appDataSpace].pnum - 1
	if !c.mtu.shouldProbe(largestSent) {
		return
	}
	length := c.mtu.nextProbeLength()
	if err := c.probe(length); err != nil {
		// Socket-option failure during a PMTU probe: treated as ERROR,
		// no probe sent, connection continues at current MTU (spec.md §7).
		c.logger.WithFields(logFields(c, appDataSpace)).
			WithError(err).Warn("pmtu probe failed")
		return
	}
	c.mtu.getUpdatedProbeSize(length)
	c.mtu.packetsBetweenProbes *= 2
	c.mtu.nextProbeAt = c.send[appDataSpace].pnum + c.mtu.packetsBetweenProbes + 1
	c.mtu.remainingProbeCount--
}

// probe emits a single PING frame at Application level, sized to exactly
// length bytes, with IP don't-fragment set for the syscall (spec.md
// §4.5 "Emission", invariant I7: probe packets never count toward
// congestion).
func (c *Conn) probe(length int) error {
	ctx := c.send[appDataSpace]
	f := newPingFrame()
	f.probe = true
	f.needAck = true
	f.flush = true
	ctx.enqueue(f)

	snap := ctx.snapshot()
	scratch := make([]byte, length)
	n := buildPacket(ctx, c.keys[appDataSpace], c.identity(appDataSpace), scratch, length, length)
	if n == 0 {
		ctx.revert(snap)
		return ErrShortBuffer
	}

	err := c.writer.withDontFragment(func() error {
		_, sendErr := c.writer.send(scratch[:n], c.peerAddr)
		return sendErr
	})
	if err != nil {
		ctx.revert(snap)
		return err
	}
	ctx.commit(c.closing)
	c.path.sent += n
	c.mtu.process = true
	c.metrics.PMTUProbesSent.Inc()
	c.metrics.PMTUEstimate.Set(float64(c.mtu.minProbeLength))
	return nil
}
