// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "testing"

func TestPMTUStateConverges(t *testing.T) {
	m := newPMTUState(1200, 1500)
	if m.done() {
		t.Fatalf("newPMTUState already done")
	}

	// Simulate every probe succeeding: the binary search should climb
	// to the ceiling and terminate (spec.md end-to-end scenario 5).
	for i := 0; i < 20 && !m.done(); i++ {
		if !m.shouldProbe(0) {
			t.Fatalf("iteration %d: shouldProbe = false before remainingProbeCount exhausted (min=%d max=%d remaining=%d)",
				i, m.minProbeLength, m.maxProbeLength, m.remainingProbeCount)
		}
		length := m.nextProbeLength()
		m.getUpdatedProbeSize(length)
		m.onAck(&Frame{plen: length})
	}
	if !m.done() {
		t.Errorf("PMTU search did not converge within 20 iterations: min=%d max=%d", m.minProbeLength, m.maxProbeLength)
	}
	if m.minProbeLength != 1500 {
		t.Errorf("converged minProbeLength = %d, want 1500 (every probe acked)", m.minProbeLength)
	}
}

func TestPMTUStateNarrowsOnRepeatedLoss(t *testing.T) {
	m := newPMTUState(1200, 1500)
	length := m.nextProbeLength() // 1350
	m.getUpdatedProbeSize(length)
	m.onLoss(&Frame{plen: length})
	if m.maxProbeLength != 1500 {
		t.Fatalf("after a single loss, maxProbeLength = %d, want unchanged 1500", m.maxProbeLength)
	}

	// A second probe at the same length is implicit confirmation that
	// length itself is unreachable: max narrows to it.
	length2 := m.nextProbeLength()
	if length2 != length {
		t.Fatalf("second probe length = %d, want repeat of %d (min/max unchanged since last loss)", length2, length)
	}
	m.getUpdatedProbeSize(length2)
	if m.maxProbeLength != length {
		t.Errorf("maxProbeLength after repeated probe = %d, want %d", m.maxProbeLength, length)
	}
}

func TestPMTUShouldProbeRespectsEligibility(t *testing.T) {
	m := newPMTUState(1200, 1200) // already converged
	if m.shouldProbe(1000) {
		t.Errorf("shouldProbe = true when min == max, want false")
	}

	m2 := newPMTUState(1200, 1500)
	m2.remainingProbeCount = 0
	if m2.shouldProbe(1000) {
		t.Errorf("shouldProbe = true when remainingProbeCount == 0, want false")
	}

	m3 := newPMTUState(1200, 1500)
	m3.process = true
	if m3.shouldProbe(1000) {
		t.Errorf("shouldProbe = true while a probe is already in process, want false")
	}
}

func TestPMTUNextProbeLengthUsesMaxOnFinalAttempt(t *testing.T) {
	m := newPMTUState(1400, 1500)
	m.remainingProbeCount = 1
	m.lastProbeLength = 1400
	if got := m.nextProbeLength(); got != 1500 {
		t.Errorf("nextProbeLength on final attempt = %d, want 1500 (max)", got)
	}
}
