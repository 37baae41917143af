// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

// numberSpace identifies one of the three packet-number spaces
// (spec.md §3: send_ctx[level]).
type numberSpace int

const (
	initialSpace numberSpace = iota
	handshakeSpace
	appDataSpace
	numberSpaceCount
)

func (s numberSpace) String() string {
	switch s {
	case initialSpace:
		return "Initial"
	case handshakeSpace:
		return "Handshake"
	case appDataSpace:
		return "Application"
	default:
		return "invalid"
	}
}

// packetNumber is a QUIC packet number: a per-space, strictly increasing
// 62-bit counter (spec.md invariant I1).
type packetNumber int64

// frameQueue is a stream-oriented sub-queue of send_ctx.fqueues
// (spec.md §3, §9 "intrusive queues"). Sub-queues round-robin so that no
// single stream can starve its neighbors: once more than streamShuffle
// frames have been drained consecutively from one sub-queue, it is
// rotated to the tail.
type frameQueue struct {
	frames   []*Frame
	count    int  // frames drained consecutively from this sub-queue
	attached bool // true once linked into sendContext.fqueues
	// isDefault marks the control sub-queue (ACK/CRYPTO/handshake
	// frames not attributed to any stream); it is never rotated.
	isDefault bool
}

func newFrameQueue(isDefault bool) *frameQueue {
	return &frameQueue{isDefault: isDefault, attached: true}
}

func (q *frameQueue) empty() bool { return len(q.frames) == 0 }

func (q *frameQueue) pushBack(f *Frame) { q.frames = append(q.frames, f) }

// pushFront restores a frame to the head of the sub-queue; used by revert.
func (q *frameQueue) pushFront(f *Frame) {
	q.frames = append([]*Frame{f}, q.frames...)
}

func (q *frameQueue) popFront() *Frame {
	if len(q.frames) == 0 {
		return nil
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f
}

// sendContext is send_ctx[level] from spec.md §3.
type sendContext struct {
	level      numberSpace
	pnum       packetNumber
	largestAck packetNumber // largest peer-ACKed packet number, -1 if none

	// fqueues holds the round-robin sequence of stream sub-queues.
	// fqueues[0] is always the default (non-stream) sub-queue and is
	// never rotated.
	fqueues []*frameQueue

	// sending holds frames drained from fqueues into the datagram
	// currently being built, not yet committed.
	sending []*Frame

	// sent holds frames committed and awaiting ACK or loss.
	sent []*Frame

	// lastPriority is the tail pointer of high-priority frames (ACK,
	// PING) that bypass congestion throttling: frames at index <
	// lastPriority in the default sub-queue are priority frames.
	lastPriority int

	// streamShuffle mirrors Config.StreamShuffle; copied onto the
	// context so buildPacket doesn't need a back-reference to Conn.
	streamShuffle int
}

func newSendContext(level numberSpace) *sendContext {
	ctx := &sendContext{level: level, largestAck: -1}
	ctx.fqueues = append(ctx.fqueues, newFrameQueue(true))
	return ctx
}

func (ctx *sendContext) defaultQueue() *frameQueue { return ctx.fqueues[0] }

// empty reports whether there are no ready-to-send frames anywhere in
// ctx.fqueues (spec.md §4.2 step 1: "If ctx.fqueues is empty, return 0").
func (ctx *sendContext) empty() bool {
	for _, q := range ctx.fqueues {
		if !q.empty() {
			return false
		}
	}
	return true
}

// enqueue appends a frame to the default sub-queue, used for
// connection-level control frames (ACK, PING, CRYPTO, NEW_TOKEN,
// CONNECTION_CLOSE, PATH_CHALLENGE/RESPONSE).
func (ctx *sendContext) enqueue(f *Frame) {
	ctx.defaultQueue().pushBack(f)
}

// enqueuePriority appends a frame to the default sub-queue and advances
// lastPriority so it bypasses congestion-window throttling (ACK/PING).
func (ctx *sendContext) enqueuePriority(f *Frame) {
	ctx.defaultQueue().pushBack(f)
	ctx.lastPriority++
}

// streamQueue returns (creating if necessary) the sub-queue attached for
// a given stream identifier, appending it to the round-robin rotation.
func (ctx *sendContext) streamQueue(streamID uint64, queues map[uint64]*frameQueue) *frameQueue {
	if q, ok := queues[streamID]; ok {
		return q
	}
	q := newFrameQueue(false)
	queues[streamID] = q
	ctx.fqueues = append(ctx.fqueues, q)
	return q
}

// rotate moves q (found at the given index) to the tail of fqueues. The
// default sub-queue (index 0) is never rotated (spec.md §4.2 step 4).
func (ctx *sendContext) rotate(idx int) {
	if idx <= 0 || idx >= len(ctx.fqueues) {
		return
	}
	q := ctx.fqueues[idx]
	ctx.fqueues = append(ctx.fqueues[:idx], ctx.fqueues[idx+1:]...)
	ctx.fqueues = append(ctx.fqueues, q)
}

// snapshot captures the mutable state that build/pack must restore on
// AGAIN (spec.md §4.3, §9: commit/revert is a transaction over
// (pnum, lastPriority) plus the sending staging list).
type sendSnapshot struct {
	pnum         packetNumber
	lastPriority int
}

func (ctx *sendContext) snapshot() sendSnapshot {
	return sendSnapshot{pnum: ctx.pnum, lastPriority: ctx.lastPriority}
}

// revert undoes everything done since snapshot: packet numbers are
// rewound, priority counters restored, and every frame staged in
// ctx.sending during this build is spliced back to the head of its
// original sub-queue, in original order (spec.md invariant: state after a
// synthetic AGAIN is bitwise identical to the pre-build snapshot).
func (ctx *sendContext) revert(snap sendSnapshot) {
	ctx.pnum = snap.pnum
	ctx.lastPriority = snap.lastPriority
	for i := len(ctx.sending) - 1; i >= 0; i-- {
		f := ctx.sending[i]
		f.queue.pushFront(f)
	}
	ctx.sending = ctx.sending[:0]
}

// commit moves every frame staged in ctx.sending to ctx.sent (recording
// in-flight accounting for ack-eliciting packets) or frees it outright
// when the connection is closing (spec.md §4.3, §5 teardown).
//
// inFlight is incremented once per packet, by the plen of that packet's
// first frame, matching spec.md §3: "plen is set only on
// the first frame of each packet ... used for in-flight accounting."
func (ctx *sendContext) commit(closing bool) (inFlightDelta int) {
	for _, f := range ctx.sending {
		if closing || !f.pktNeedAck {
			// Freed: not retransmitted.
			continue
		}
		if f.first {
			inFlightDelta += f.plen
		}
		ctx.sent = append(ctx.sent, f)
	}
	ctx.sending = ctx.sending[:0]
	return inFlightDelta
}

// partialCommit handles createSendmmsg's per-datagram commit/revert
// (spec.md §9 open question (i)/(ii)): the first cutIdx frames staged in
// ctx.sending (the datagrams that were actually sent) are committed; the
// remainder (datagrams sendmmsg never got to) are spliced back to the
// head of their origin sub-queues, and if revertSnap is non-nil (some
// datagrams were dropped), pnum and lastPriority are rewound to the
// snapshot captured before the first dropped datagram was built — never
// to a shared/last-iteration snapshot, which is the bug spec.md §9(ii)
// warns against.
func (ctx *sendContext) partialCommit(closing bool, cutIdx int, revertSnap *sendSnapshot) (inFlightDelta int) {
	if cutIdx > len(ctx.sending) {
		cutIdx = len(ctx.sending)
	}
	committed := ctx.sending[:cutIdx]
	reverted := ctx.sending[cutIdx:]
	for _, f := range committed {
		if closing || !f.pktNeedAck {
			continue
		}
		if f.first {
			inFlightDelta += f.plen
		}
		ctx.sent = append(ctx.sent, f)
	}
	for i := len(reverted) - 1; i >= 0; i-- {
		f := reverted[i]
		f.queue.pushFront(f)
	}
	if revertSnap != nil {
		ctx.pnum = revertSnap.pnum
		ctx.lastPriority = revertSnap.lastPriority
	}
	ctx.sending = ctx.sending[:0]
	return inFlightDelta
}
