// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "time"

// Output is the Egress Dispatcher (C4): output() from spec.md §4.4.
// Structurally this is the generalization of
// AlexanderYastrebov-net/internal/quic/conn_send.go's maybeSend — the
// teacher inlines a single "plain" strategy directly in the per-level
// loop; this engine factors strategy selection out so GSO and sendmmsg
// can share the same Packet Builder (C2) via the packer (C3).
func (c *Conn) Output(now time.Time) error {
	var (
		result packResult
		err    error
	)
	switch {
	case c.gsoEligible(c.segmentSize()):
		result, err = c.createSegments()
	case c.cfg.SendmmsgEnabled && c.writer.sendmmsgSupported():
		result, err = c.createSendmmsg()
	default:
		result, err = c.createDatagrams()
	}
	if err != nil {
		return err
	}

	if result.inFlightDiff != 0 {
		c.congestion.inFlight += result.inFlightDiff
		if c.loss != nil && !c.sendTimerArmed && !c.closing {
			c.loss.ArmIdleTimer(now.Add(c.tp.maxIdleTimeout))
		}
	}

	if result.retry && c.loss != nil {
		c.loss.ArmLossTimer(now.Add(socketRetryDelay))
	}

	if c.cfg.MTUDiscovery && result.sent {
		c.maybeProbe(now)
	}

	if c.loss != nil && !result.retry {
		c.loss.ArmLossTimer(c.nextLossDeadline(now))
	}
	return nil
}

func (c *Conn) segmentSize() int {
	s := c.ctp.maxUDPPayloadSize
	if s <= 0 || s > maxUDPSegmentSize {
		s = maxUDPSegmentSize
	}
	return s
}

// nextLossDeadline is a minimal stand-in for the loss-detection
// collaborator's PTO computation (out of scope per spec.md §1); it
// exists only so Output has something concrete to hand to ArmLossTimer.
func (c *Conn) nextLossDeadline(now time.Time) time.Time {
	return now.Add(c.tp.maxIdleTimeout)
}
