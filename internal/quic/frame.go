// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

// frameType identifies a QUIC frame type (RFC 9000 §19). Only the subset
// the egress engine itself constructs or coalesces is named here; stream
// application frames arrive pre-built from the stream-layer collaborator.
type frameType byte

const (
	frameTypePadding         frameType = 0x00
	frameTypePing            frameType = 0x01
	frameTypeAck             frameType = 0x02
	frameTypeCrypto          frameType = 0x06
	frameTypeNewToken        frameType = 0x07
	frameTypeStream          frameType = 0x08
	frameTypeConnectionClose frameType = 0x1c
	frameTypeConnCloseApp    frameType = 0x1d
	frameTypePathChallenge   frameType = 0x1a
	frameTypePathResponse    frameType = 0x1b
)

func (t frameType) ackEliciting() bool {
	switch t {
	case frameTypePadding, frameTypeAck:
		return false
	default:
		return true
	}
}

// Frame is the unit moved between fqueues, sending, and sent
// (spec.md §3). A frame belongs to exactly one of those lists at any
// time (invariant I2); the queue field is the back-pointer used by
// revert to splice it back to the head of its origin sub-queue. That
// splice (frameQueue.pushFront) copies the sub-queue's slice, so it is
// linear in the sub-queue's length, not constant time.
type Frame struct {
	level    numberSpace
	typ      frameType
	needAck  bool // this frame obliges the peer to ACK (ack-eliciting)
	flush    bool // stop draining the queue after this frame is packed
	probe    bool // PMTU probe frame: never counts toward congestion (I7)

	pnum packetNumber // packet number of the packet this frame was packed into
	// first/last mark frame position within its packet; plen is only
	// meaningful when first is true.
	first bool
	last  bool
	plen  int // encrypted datagram length contribution, set on first frame

	// pktNeedAck is stamped on every frame of a packet once any frame in
	// that packet set needAck (spec.md §4.2 step 8).
	pktNeedAck bool

	body []byte // pre-encoded frame body (caller-supplied or built here)

	queue *frameQueue // origin sub-queue, for the revert splice
}

// newPaddingFrame is never queued; PADDING is synthesized directly into
// the packet buffer by buildPacket, so it has no Frame representation.

// newPingFrame builds a standalone PING frame (used by CC probes, PTO
// probes, and the PMTU prober).
func newPingFrame() *Frame {
	return &Frame{typ: frameTypePing, needAck: true, flush: true, body: []byte{byte(frameTypePing)}}
}

// newAckFrame builds an ACK frame from a set of received-packet ranges.
// ranges must be sorted descending by high end, non-overlapping, as
// produced by the ACK-range bookkeeping collaborator (out of scope).
func newAckFrame(ranges []ackRange, ackDelay uint64) *Frame {
	return &Frame{typ: frameTypeAck, needAck: false, body: encodeAckFrame(ranges, ackDelay)}
}

// ackRange is a contiguous inclusive range of received packet numbers.
type ackRange struct {
	largest packetNumber
	smallest packetNumber
}

func encodeAckFrame(ranges []ackRange, ackDelay uint64) []byte {
	if len(ranges) == 0 {
		return nil
	}
	buf := appendVarint(nil, uint64(frameTypeAck))
	buf = appendVarint(buf, uint64(ranges[0].largest))
	buf = appendVarint(buf, ackDelay)
	buf = appendVarint(buf, uint64(len(ranges)-1))
	buf = appendVarint(buf, uint64(ranges[0].largest-ranges[0].smallest))
	prevSmallest := ranges[0].smallest
	for _, r := range ranges[1:] {
		gap := prevSmallest - r.largest - 2
		buf = appendVarint(buf, uint64(gap))
		buf = appendVarint(buf, uint64(r.largest-r.smallest))
		prevSmallest = r.smallest
	}
	return buf
}

// newCryptoFrame wraps a pre-serialized CRYPTO frame body at a given
// stream offset. offset/data come from the TLS-handshake collaborator.
func newCryptoFrame(offset uint64, data []byte) *Frame {
	buf := appendVarint(nil, uint64(frameTypeCrypto))
	buf = appendVarint(buf, offset)
	buf = appendVarint(buf, uint64(len(data)))
	buf = append(buf, data...)
	return &Frame{typ: frameTypeCrypto, needAck: true, body: buf}
}

// newNewTokenFrame builds a NEW_TOKEN frame (C6, spec.md §4.6).
func newNewTokenFrame(token []byte) *Frame {
	buf := appendVarint(nil, uint64(frameTypeNewToken))
	buf = appendVarint(buf, uint64(len(token)))
	buf = append(buf, token...)
	return &Frame{typ: frameTypeNewToken, needAck: true, flush: true, body: buf}
}

// newConnectionCloseFrame builds a CONNECTION_CLOSE frame, transport or
// application variant depending on app.
func newConnectionCloseFrame(app bool, errorCode uint64, reason string) *Frame {
	typ := frameTypeConnectionClose
	if app {
		typ = frameTypeConnCloseApp
	}
	buf := appendVarint(nil, uint64(typ))
	buf = appendVarint(buf, errorCode)
	if !app {
		buf = appendVarint(buf, 0) // frame type that triggered the error: unknown here
	}
	buf = appendVarint(buf, uint64(len(reason)))
	buf = append(buf, reason...)
	return &Frame{typ: typ, needAck: false, flush: true, body: buf}
}

// newPathChallengeFrame / newPathResponseFrame build the 8-byte-payload
// frames subject to the 1200-byte expansion rule (spec.md invariant I5).
func newPathChallengeFrame(data [8]byte) *Frame {
	buf := appendVarint(nil, uint64(frameTypePathChallenge))
	buf = append(buf, data[:]...)
	return &Frame{typ: frameTypePathChallenge, needAck: true, body: buf}
}

func newPathResponseFrame(data [8]byte) *Frame {
	buf := appendVarint(nil, uint64(frameTypePathResponse))
	buf = append(buf, data[:]...)
	return &Frame{typ: frameTypePathResponse, needAck: true, body: buf}
}

// splitFrame attempts to split f so that the re-encoded head frame fits
// within `room` bytes, leaving the remainder re-encoded as an
// independent tail frame to be re-queued (spec.md §4.2 step 4). Only
// STREAM and CRYPTO frames are divisible; anything else returns
// ErrShortBuffer to signal DECLINED (caller breaks out of the drain
// loop). Both halves get their own type/offset/length varint header:
// splitting a pre-encoded frame by raw byte offset would leave the head
// frame's length field describing the original, untruncated body and
// the tail with no frame header at all, corrupting the wire format.
func splitFrame(f *Frame, room int) (head *Frame, tail *Frame, err error) {
	switch f.typ {
	case frameTypeCrypto:
		return splitCryptoFrame(f, room)
	case frameTypeStream:
		return splitStreamFrame(f, room)
	default:
		return nil, nil, ErrShortBuffer
	}
}

// splitCryptoFrame decodes a CRYPTO frame's offset/length header and
// re-encodes two independent CRYPTO frames, the tail's offset advanced
// past the head's share of the data.
func splitCryptoFrame(f *Frame, room int) (head *Frame, tail *Frame, err error) {
	typVal, rest, ok := consumeVarint(f.body)
	if !ok || frameType(typVal) != frameTypeCrypto {
		return nil, nil, ErrShortBuffer
	}
	offVal, rest, ok := consumeVarint(rest)
	if !ok {
		return nil, nil, ErrShortBuffer
	}
	lenVal, rest, ok := consumeVarint(rest)
	if !ok || uint64(len(rest)) < lenVal {
		return nil, nil, ErrShortBuffer
	}
	data := rest[:lenVal]
	headerLen := len(f.body) - len(data)
	if room <= headerLen {
		return nil, nil, ErrShortBuffer
	}
	headData := room - headerLen
	if headData <= 0 || headData >= len(data) {
		return nil, nil, ErrShortBuffer
	}

	headBuf := appendVarint(nil, uint64(frameTypeCrypto))
	headBuf = appendVarint(headBuf, offVal)
	headBuf = appendVarint(headBuf, uint64(headData))
	headBuf = append(headBuf, data[:headData]...)

	tailBuf := appendVarint(nil, uint64(frameTypeCrypto))
	tailBuf = appendVarint(tailBuf, offVal+uint64(headData))
	tailBuf = appendVarint(tailBuf, uint64(len(data)-headData))
	tailBuf = append(tailBuf, data[headData:]...)

	head = &Frame{typ: frameTypeCrypto, needAck: f.needAck, flush: f.flush, body: headBuf, queue: f.queue}
	tail = &Frame{typ: frameTypeCrypto, needAck: f.needAck, flush: f.flush, body: tailBuf, queue: f.queue}
	return head, tail, nil
}

// splitStreamFrame decodes a STREAM frame's type-byte bits (OFF/LEN/FIN,
// RFC 9000 §19.8), its stream ID, and its optional offset/length fields,
// then re-encodes two independent STREAM frames. The head never carries
// FIN (more data follows in tail); both head and tail carry an explicit
// LEN field and the tail always carries OFF, since its offset is never
// zero.
func splitStreamFrame(f *Frame, room int) (head *Frame, tail *Frame, err error) {
	if len(f.body) == 0 {
		return nil, nil, ErrShortBuffer
	}
	wireTyp := f.body[0]
	if wireTyp&0xf8 != byte(frameTypeStream) {
		return nil, nil, ErrShortBuffer
	}
	offBit := wireTyp&0x04 != 0
	lenBit := wireTyp&0x02 != 0

	rest := f.body[1:]
	streamID, rest, ok := consumeVarint(rest)
	if !ok {
		return nil, nil, ErrShortBuffer
	}
	var offVal uint64
	if offBit {
		offVal, rest, ok = consumeVarint(rest)
		if !ok {
			return nil, nil, ErrShortBuffer
		}
	}
	var data []byte
	if lenBit {
		lenVal, dataRest, ok := consumeVarint(rest)
		if !ok || uint64(len(dataRest)) < lenVal {
			return nil, nil, ErrShortBuffer
		}
		data = dataRest[:lenVal]
	} else {
		data = rest
	}
	headerLen := len(f.body) - len(data)
	if !lenBit {
		// The head gains a length field the original frame lacked.
		headerLen += varintLen(uint64(len(data)))
	}
	if room <= headerLen {
		return nil, nil, ErrShortBuffer
	}
	headData := room - headerLen
	if headData <= 0 || headData >= len(data) {
		return nil, nil, ErrShortBuffer
	}

	headTyp := (wireTyp | 0x02) &^ 0x01 // force LEN, clear FIN: more data follows
	headBuf := []byte{headTyp}
	headBuf = appendVarint(headBuf, streamID)
	if offBit {
		headBuf = appendVarint(headBuf, offVal)
	}
	headBuf = appendVarint(headBuf, uint64(headData))
	headBuf = append(headBuf, data[:headData]...)

	tailTyp := wireTyp | 0x04 | 0x02 // force OFF (offset is never 0) and LEN
	tailBuf := []byte{tailTyp}
	tailBuf = appendVarint(tailBuf, streamID)
	tailBuf = appendVarint(tailBuf, offVal+uint64(headData))
	tailBuf = appendVarint(tailBuf, uint64(len(data)-headData))
	tailBuf = append(tailBuf, data[headData:]...)

	head = &Frame{typ: frameTypeStream, needAck: f.needAck, flush: f.flush, body: headBuf, queue: f.queue}
	tail = &Frame{typ: frameTypeStream, needAck: f.needAck, flush: f.flush, body: tailBuf, queue: f.queue}
	return head, tail, nil
}
