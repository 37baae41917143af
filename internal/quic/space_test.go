// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "testing"

func TestSendContextEnqueueDrainOrder(t *testing.T) {
	ctx := newSendContext(appDataSpace)
	f1 := &Frame{typ: frameTypePing, body: []byte{1}}
	f2 := &Frame{typ: frameTypePing, body: []byte{2}}
	ctx.enqueue(f1)
	ctx.enqueue(f2)

	q, idx := headNonEmptyQueue(ctx)
	if idx != 0 || q != ctx.defaultQueue() {
		t.Fatalf("headNonEmptyQueue = %v, %d, want default queue, 0", q, idx)
	}
	if got := q.popFront(); got != f1 {
		t.Fatalf("popFront = %v, want f1", got)
	}
	if got := q.popFront(); got != f2 {
		t.Fatalf("popFront = %v, want f2", got)
	}
	if !ctx.empty() {
		t.Fatalf("ctx.empty() = false after draining both frames")
	}
}

func TestSendContextRevertRestoresState(t *testing.T) {
	ctx := newSendContext(initialSpace)
	f1 := &Frame{typ: frameTypePing, body: []byte{1}, queue: ctx.defaultQueue()}
	f2 := &Frame{typ: frameTypeCrypto, body: []byte{2}, queue: ctx.defaultQueue()}
	ctx.enqueue(f1)
	ctx.enqueue(f2)

	snap := ctx.snapshot()
	ctx.pnum = 5
	ctx.lastPriority = 3
	// Simulate buildPacket staging both frames for sending.
	ctx.defaultQueue().popFront()
	ctx.defaultQueue().popFront()
	ctx.sending = append(ctx.sending, f1, f2)

	ctx.revert(snap)

	if ctx.pnum != 0 || ctx.lastPriority != 0 {
		t.Errorf("after revert: pnum=%d lastPriority=%d, want 0, 0", ctx.pnum, ctx.lastPriority)
	}
	if len(ctx.sending) != 0 {
		t.Errorf("after revert: len(sending) = %d, want 0", len(ctx.sending))
	}
	// Order must be restored: f1 then f2, not f2 then f1.
	got1 := ctx.defaultQueue().popFront()
	got2 := ctx.defaultQueue().popFront()
	if got1 != f1 || got2 != f2 {
		t.Errorf("after revert: queue order = %v, %v, want f1, f2", got1, got2)
	}
}

func TestSendContextCommitSkipsClosingFrames(t *testing.T) {
	ctx := newSendContext(appDataSpace)
	f := &Frame{typ: frameTypePing, first: true, plen: 100, pktNeedAck: true}
	ctx.sending = append(ctx.sending, f)

	delta := ctx.commit(true /* closing */)
	if delta != 0 {
		t.Errorf("commit(closing=true) inFlightDelta = %d, want 0", delta)
	}
	if len(ctx.sent) != 0 {
		t.Errorf("commit(closing=true) left %d frames in sent, want 0 (freed, not retransmittable)", len(ctx.sent))
	}
}

func TestSendContextCommitTracksInFlight(t *testing.T) {
	ctx := newSendContext(appDataSpace)
	f1 := &Frame{typ: frameTypeStream, first: true, plen: 150, pktNeedAck: true}
	f2 := &Frame{typ: frameTypeStream, plen: 150, pktNeedAck: true} // second frame of same packet, first=false
	ctx.sending = append(ctx.sending, f1, f2)

	delta := ctx.commit(false)
	if delta != 150 {
		t.Errorf("commit inFlightDelta = %d, want 150 (only the first frame's plen counts)", delta)
	}
	if len(ctx.sent) != 2 {
		t.Errorf("commit moved %d frames to sent, want 2", len(ctx.sent))
	}
}

// TestPartialCommitRewindsToFirstDroppedSnapshot exercises spec.md §9's
// second open question directly: with two datagrams built back to back
// at the same level, partialCommit must rewind pnum to the snapshot
// taken before the *first dropped* datagram, not to whatever snapshot
// happened to be captured last.
func TestPartialCommitRewindsToFirstDroppedSnapshot(t *testing.T) {
	ctx := newSendContext(appDataSpace)
	q := ctx.defaultQueue()

	// Datagram 0: one frame, built at pnum=0.
	snap0 := ctx.snapshot()
	f0 := &Frame{typ: frameTypePing, pnum: 0, first: true, last: true, plen: 50, pktNeedAck: true, queue: q}
	ctx.sending = append(ctx.sending, f0)
	ctx.pnum = 1

	// Datagram 1: one frame, built at pnum=1. This is the one that will
	// be "dropped" (sendmmsg only accepted 1 of 2 datagrams).
	snap1 := ctx.snapshot()
	f1 := &Frame{typ: frameTypePing, pnum: 1, first: true, last: true, plen: 50, pktNeedAck: true, queue: q}
	ctx.sending = append(ctx.sending, f1)
	ctx.pnum = 2

	// Only the first datagram's 1 frame was actually sent.
	delta := ctx.partialCommit(false, 1, &snap1)

	if delta != 50 {
		t.Errorf("partialCommit inFlightDelta = %d, want 50 (only f0 committed)", delta)
	}
	if len(ctx.sent) != 1 || ctx.sent[0] != f0 {
		t.Errorf("partialCommit sent = %v, want [f0]", ctx.sent)
	}
	if ctx.pnum != snap1.pnum {
		t.Errorf("partialCommit left pnum=%d, want %d (snap1, the first-dropped-datagram snapshot)", ctx.pnum, snap1.pnum)
	}
	if q.empty() {
		t.Fatalf("partialCommit did not requeue the dropped frame")
	}
	if got := q.popFront(); got != f1 {
		t.Errorf("requeued frame = %v, want f1", got)
	}
	_ = snap0 // only used to document the pre-datagram-0 state for readers
}
