// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

// handleAckOrLoss deals with the final fate of a packet we sent: either
// the peer acknowledges it, or loss detection declares it lost. Unlike
// AlexanderYastrebov-net/internal/quic/conn_loss.go, which unmarshals a
// packed byte-stream of frame references out of a sentPacket, the egress
// engine here keeps sent frames as live *Frame values in ctx.sent, so
// there is no marshal format to walk — but the fate dispatch (ACK vs
// loss, and what each frame type does about it) follows the same shape.
func (c *Conn) handleAckOrLoss(level numberSpace, pnum packetNumber, acked bool) {
	ctx := c.send[level]
	var matched []*Frame
	kept := ctx.sent[:0]
	for _, f := range ctx.sent {
		if f.pnum != pnum {
			kept = append(kept, f)
			continue
		}
		matched = append(matched, f)
	}
	ctx.sent = kept
	if len(matched) == 0 {
		return
	}

	for _, f := range matched {
		if f.first && !f.probe {
			c.congestion.inFlight -= f.plen
			if c.congestion.inFlight < 0 {
				c.congestion.inFlight = 0
			}
		}
		switch f.typ {
		case frameTypeAck:
			// Loss of an ACK frame never triggers retransmission
			// (RFC 9000 §13.3): ACKs are superseded by the next one sent.
		case frameTypePing:
			if f.probe {
				// PMTU probes are never retransmitted (invariant I7):
				// on loss the binary search simply narrows next round.
				if acked {
					c.mtu.onAck(f)
					// Publish the learned MTU so subsequent datagrams
					// use the larger budget (spec.md §4.5 mtu_ack).
					c.ctp.maxUDPPayloadSize = c.mtu.minProbeLength
					c.metrics.PMTUEstimate.Set(float64(c.mtu.minProbeLength))
				} else {
					c.mtu.onLoss(f)
					c.metrics.PMTUProbesLost.Inc()
				}
				continue
			}
			if !acked {
				c.retransmit(ctx, f)
			}
		default:
			if !acked {
				c.retransmit(ctx, f)
			}
		}
	}
}

// retransmit re-enqueues a copy of a lost frame's body for resending.
// The copy is a fresh Frame so the original (now discarded) one never
// re-enters invariant I2's set of live locations.
func (c *Conn) retransmit(ctx *sendContext, f *Frame) {
	nf := &Frame{typ: f.typ, needAck: f.needAck, flush: f.flush, body: f.body}
	ctx.enqueue(nf)
}

// HandleAck notifies the egress engine that the peer acknowledged the
// packet sent with the given packet number in the given space. The
// ACK-range bookkeeping that determines which packet numbers were
// actually acknowledged is an out-of-scope collaborator (spec.md §1);
// this is the entry point it calls once per newly-acknowledged packet.
func (c *Conn) HandleAck(level numberSpace, pnum packetNumber) {
	if pnum > c.send[level].largestAck {
		c.send[level].largestAck = pnum
	}
	c.handleAckOrLoss(level, pnum, true)
}

// HandleLoss notifies the egress engine that loss detection (out of
// scope collaborator) declared the packet sent with the given packet
// number lost.
func (c *Conn) HandleLoss(level numberSpace, pnum packetNumber) {
	c.handleAckOrLoss(level, pnum, false)
}
