// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

// Datagram Packer (C3): coalesces packets of multiple encryption levels
// into one datagram, enforces anti-amplification, and implements the
// commit/revert transaction (spec.md §4.3, §9). Structurally grounded on
// AlexanderYastrebov-net/internal/quic/conn_send.go's maybeSend loop
// (per-level start/append/finish sequence, then one syscall, then loop),
// generalized into three interchangeable strategies as spec.md's
// component table requires (plain/GSO/mmsg) and with explicit
// snapshot/commit/revert rather than the teacher's implicit per-call
// state (the teacher never reverts: client-side QUIC over a net.PacketConn
// doesn't see EAGAIN the way a non-blocking server listener does).

// packResult is what each packing strategy reports back to output() (C4).
type packResult struct {
	sent         bool
	bytesSent    int
	inFlightDiff int
	retry        bool // arm the 10ms retry timer (spec.md SOCKET_RETRY_DELAY)
}

// createDatagrams is the "Plain" strategy (spec.md §4.3).
func (c *Conn) createDatagrams() (packResult, error) {
	var result packResult
	for {
		budget := c.datagramBudget()
		if budget <= 0 {
			c.metrics.AntiAmplifyBlocked.Inc()
			return result, nil
		}

		snaps := [numberSpaceCount]sendSnapshot{}
		for i := range c.send {
			snaps[i] = c.send[i].snapshot()
		}

		pad := c.paddingLevel()

		buf := make([]byte, 0, budget)
		wrote := false
		for level := initialSpace; level < numberSpaceCount; level++ {
			ctx := c.send[level]
			if ctx.empty() {
				continue
			}
			if c.congestion.blocked() && ctx.lastPriority == 0 {
				// No priority frames and window exhausted: skip this
				// level entirely (spec.md §4.3).
				continue
			}
			min := 0
			if level == pad && len(buf) < minimumInitialDatagramSize {
				min = minimumInitialDatagramSize - len(buf)
			}
			max := budget - len(buf)
			if max <= 0 {
				break
			}
			scratch := make([]byte, max)
			n := buildPacket(ctx, c.keys[level], c.identity(level), scratch, max, min)
			if n > 0 {
				buf = append(buf, scratch[:n]...)
				wrote = true
			}
		}

		if !wrote {
			return result, nil
		}

		n, err := c.writer.send(buf, c.peerAddr)
		if err == ErrAgain {
			c.revertAll(snaps)
			c.metrics.AgainRetries.Inc()
			result.retry = true
			return result, nil
		}
		if err != nil {
			return result, err
		}

		delta := c.commitAll()
		c.path.sent += n
		result.sent = true
		result.bytesSent += n
		result.inFlightDiff += delta
		c.metrics.DatagramsSent.Inc()
		c.metrics.BytesSent.Add(float64(n))
	}
}

// datagramBudget computes the per-datagram byte ceiling: the peer's
// advertised maximum, capped at the protocol hard ceiling, further
// capped by the anti-amplification limit on an unvalidated path
// (spec.md §4.3, invariant I3).
func (c *Conn) datagramBudget() int {
	budget := c.ctp.maxUDPPayloadSize
	if budget <= 0 || budget > maxUDPPayloadSize {
		budget = maxUDPPayloadSize
	}
	if b := c.path.budget(); b < budget {
		budget = b
	}
	return budget
}

// paddingLevel picks the lowest level whose queue has an ack-eliciting
// frame and for which no higher level also has pending data (spec.md
// §4.3: RFC 9000 §14.1 applied to coalesced datagrams).
func (c *Conn) paddingLevel() numberSpace {
	for level := initialSpace; level < numberSpaceCount; level++ {
		ctx := c.send[level]
		if ctx.empty() {
			continue
		}
		if !queueHasAckEliciting(ctx) {
			continue
		}
		higherHasData := false
		for h := level + 1; h < numberSpaceCount; h++ {
			if !c.send[h].empty() {
				higherHasData = true
				break
			}
		}
		if !higherHasData {
			return level
		}
	}
	return numberSpaceCount // no padding level
}

func queueHasAckEliciting(ctx *sendContext) bool {
	for _, q := range ctx.fqueues {
		for _, f := range q.frames {
			if f.needAck {
				return true
			}
		}
	}
	return false
}

func (c *Conn) revertAll(snaps [numberSpaceCount]sendSnapshot) {
	for i := range c.send {
		c.send[i].revert(snaps[i])
	}
}

func (c *Conn) commitAll() int {
	delta := 0
	for i := range c.send {
		delta += c.send[i].commit(c.closing)
	}
	return delta
}

// gsoEligible checks the four predicates of spec.md §4.3/P8: GSO
// configured, path validated, Initial/Handshake queues empty, and at
// least 3 segments worth of Application data pending.
func (c *Conn) gsoEligible(segmentSize int) bool {
	if !c.cfg.GSOEnabled || !c.writer.gsoSupported() {
		return false
	}
	if !c.path.validated() {
		return false
	}
	if !c.send[initialSpace].empty() || !c.send[handshakeSpace].empty() {
		return false
	}
	return pendingBytes(c.send[appDataSpace]) >= 3*segmentSize
}

func pendingBytes(ctx *sendContext) int {
	n := 0
	for _, q := range ctx.fqueues {
		for _, f := range q.frames {
			n += len(f.body)
		}
	}
	return n
}

// createSegments is the GSO strategy (spec.md §4.3).
func (c *Conn) createSegments() (packResult, error) {
	var result packResult
	segmentSize := c.ctp.maxUDPPayloadSize
	if segmentSize <= 0 || segmentSize > maxUDPSegmentSize {
		segmentSize = maxUDPSegmentSize
	}
	if !c.gsoEligible(segmentSize) {
		return c.createDatagrams()
	}
	ctx := c.send[appDataSpace]

	for {
		if !c.gsoEligible(segmentSize) {
			return result, nil
		}
		snap := ctx.snapshot()

		buf := make([]byte, 0, maxSegments*segmentSize)
		segments := 0
		for segments < maxSegments {
			scratch := make([]byte, segmentSize)
			n := buildPacket(ctx, c.keys[appDataSpace], c.identity(appDataSpace), scratch, segmentSize, segmentSize)
			if n == 0 {
				break
			}
			buf = append(buf, scratch[:n]...)
			segments++
			if pendingBytes(ctx) < segmentSize {
				break
			}
		}
		if segments == 0 {
			return result, nil
		}

		n, err := c.writer.sendSegments(buf, c.peerAddr, segmentSize)
		if err == ErrAgain {
			ctx.revert(snap)
			c.metrics.AgainRetries.Inc()
			result.retry = true
			return result, nil
		}
		if err != nil {
			return result, err
		}

		delta := ctx.commit(c.closing)
		c.path.sent += n
		result.sent = true
		result.bytesSent += n
		result.inFlightDiff += delta
		c.metrics.DatagramsSent.Add(float64(segments))
		c.metrics.BytesSent.Add(float64(n))
	}
}

// createSendmmsg is the sendmmsg strategy (spec.md §4.3): builds up to
// maxSendmmsg independent datagrams and submits them in one syscall.
//
// This resolves spec.md §9's two open questions:
//  1. On partial success (0 < n < built), only the first n datagrams'
//     frame state is committed; the remainder is reverted, since their
//     bytes were never actually placed on the wire.
//  2. Each datagram's pre-build snapshot is tracked per datagram (not
//     merely per level), so committing/reverting datagram i always
//     restores/advances exactly that datagram's per-level contribution,
//     never a stale snapshot left over from the last-built datagram.
func (c *Conn) createSendmmsg() (packResult, error) {
	var result packResult
	if !c.cfg.SendmmsgEnabled || !c.writer.sendmmsgSupported() {
		return c.createDatagrams()
	}

	type built struct {
		buf   []byte
		snaps [numberSpaceCount]sendSnapshot
		// frameCounts[level] is how many frames were staged into
		// ctx.sending for this datagram, so a partial-success revert
		// can roll back only this datagram's slice of ctx.sending
		// without disturbing datagrams already committed earlier in
		// this same call.
		frameCounts [numberSpaceCount]int
	}
	var datagrams []built

	for len(datagrams) < maxSendmmsg {
		budget := c.datagramBudget()
		if budget <= 0 {
			break
		}
		snaps := [numberSpaceCount]sendSnapshot{}
		startCounts := [numberSpaceCount]int{}
		for i := range c.send {
			snaps[i] = c.send[i].snapshot()
			startCounts[i] = len(c.send[i].sending)
		}
		pad := c.paddingLevel()
		buf := make([]byte, 0, budget)
		wrote := false
		for level := initialSpace; level < numberSpaceCount; level++ {
			ctx := c.send[level]
			if ctx.empty() {
				continue
			}
			if c.congestion.blocked() && ctx.lastPriority == 0 {
				continue
			}
			min := 0
			if level == pad && len(buf) < minimumInitialDatagramSize {
				min = minimumInitialDatagramSize - len(buf)
			}
			max := budget - len(buf)
			if max <= 0 {
				break
			}
			scratch := make([]byte, max)
			n := buildPacket(ctx, c.keys[level], c.identity(level), scratch, max, min)
			if n > 0 {
				buf = append(buf, scratch[:n]...)
				wrote = true
			}
		}
		if !wrote {
			// Nothing more to send; restore the unused snapshot (no-op
			// since nothing changed) and stop accumulating. Frames staged
			// in ctx.sending by earlier datagrams stay there for the
			// commit below.
			for i := range c.send {
				c.send[i].pnum = snaps[i].pnum
				c.send[i].lastPriority = snaps[i].lastPriority
			}
			break
		}
		b := built{buf: buf, snaps: snaps}
		for i := range c.send {
			b.frameCounts[i] = len(c.send[i].sending) - startCounts[i]
		}
		datagrams = append(datagrams, b)
	}

	if len(datagrams) == 0 {
		return result, nil
	}

	iov := make([][]byte, len(datagrams))
	for i, d := range datagrams {
		iov[i] = d.buf
	}
	n, err := c.writer.sendMany(iov, c.peerAddr)
	if err != nil && err != ErrAgain {
		return result, err
	}
	if err == ErrAgain {
		n = 0
	}

	// Commit the first n datagrams (in build order, per invariant that
	// transmission order matches build order); revert the rest, per
	// level, rewinding each level's own pnum snapshot rather than a
	// shared last-iteration pointer (spec.md §9 open question (ii)).
	for lvl := range c.send {
		cutIdx := 0
		for i := 0; i < n; i++ {
			cutIdx += datagrams[i].frameCounts[lvl]
		}
		var revertSnap *sendSnapshot
		if n < len(datagrams) {
			s := datagrams[n].snaps[lvl]
			revertSnap = &s
		}
		result.inFlightDiff += c.send[lvl].partialCommit(c.closing, cutIdx, revertSnap)
	}
	for i := 0; i < n; i++ {
		c.path.sent += len(datagrams[i].buf)
		result.sent = true
		result.bytesSent += len(datagrams[i].buf)
	}
	if n == 0 {
		c.metrics.AgainRetries.Inc()
		result.retry = true
		return result, nil
	}
	c.metrics.DatagramsSent.Add(float64(n))
	c.metrics.BytesSent.Add(float64(result.bytesSent))
	return result, nil
}
