// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

// Packet header encoding, directly from RFC 9000 §17 and RFC 9001 §5.4.
// Per spec.md §9 this is implemented from the RFCs directly rather than
// copied from an existing implementation, since pn-length bits and the
// header-protection sample offset are easy to get subtly wrong.

type packetType byte

const (
	packetTypeInitial   packetType = 0
	packetTypeZeroRTT    packetType = 1
	packetTypeHandshake packetType = 2
	packetTypeRetry     packetType = 3
)

// longHeaderForm is the fixed high bits of a long header's first byte,
// laid out 11TTRRPP (form, fixed bit, packet type, reserved, packet
// number length - 1). The reserved bits stay clear; TT and PP are filled
// in by appendLongHeaderPrefix.
const longHeaderForm = 0x80 | 0x40 // form=1, fixed bit=1

// shortHeaderForm is the fixed high bits of a short header's first byte,
// laid out 01SRRKPP (form, fixed bit, spin, reserved, key phase, packet
// number length - 1). K and PP are filled in by appendShortHeader.
const shortHeaderForm = 0x40

// packetNumberLen picks the smallest width in {1,2,3,4} bytes whose
// truncation is unambiguous for decodePacketNumber to reconstruct, per
// RFC 9000 Appendix A.2: the encoded range must be more than twice the
// distance from largestAck, so the thresholds are the half-range values
// (1<<7, 1<<15, 1<<23), not the full-range ones. largestAck of -1 means
// "no ACK received yet" (delta = pnum+1).
func packetNumberLen(pnum, largestAck packetNumber) int {
	delta := uint64(pnum - largestAck)
	switch {
	case delta < 1<<7:
		return 1
	case delta < 1<<15:
		return 2
	case delta < 1<<23:
		return 3
	default:
		return 4
	}
}

// appendPacketNumber writes the low-order numLen bytes of pnum.
func appendPacketNumber(buf []byte, pnum packetNumber, numLen int) []byte {
	var tmp [4]byte
	v := uint32(pnum)
	tmp[0] = byte(v >> 24)
	tmp[1] = byte(v >> 16)
	tmp[2] = byte(v >> 8)
	tmp[3] = byte(v)
	return append(buf, tmp[4-numLen:]...)
}

// decodePacketNumber reconstructs a full packet number from its
// truncated wire representation, RFC 9000 Appendix A.3. largestPN is the
// largest full packet number successfully processed so far in this
// space; for R2 property tests this is the value handed in directly.
func decodePacketNumber(largestPN packetNumber, truncated uint64, numLen int) packetNumber {
	expected := int64(largestPN) + 1
	win := int64(1) << uint(8*numLen)
	hwin := win / 2
	mask := win - 1
	candidate := (expected &^ mask) | int64(truncated)
	switch {
	case candidate <= expected-hwin && candidate < (int64(1)<<62)-win:
		candidate += win
	case candidate > expected+hwin && candidate >= win:
		candidate -= win
	}
	return packetNumber(candidate)
}

// longHeaderPrefixLen returns the length of everything in a long header
// up to (but not including) the packet number field, for a given
// ptype/version/dcid/scid/token. Used to compute min/max payload budgets
// before the header is actually serialized.
func longHeaderPrefixLen(ptype packetType, dcid, scid, token []byte) int {
	n := 1 /*flags*/ + 4 /*version*/ + 1 + len(dcid) + 1 + len(scid)
	if ptype == packetTypeInitial {
		n += varintLen(uint64(len(token))) + len(token)
	}
	// length varint: reserve 4 bytes in the prefix budget. buildPacket
	// always writes the Length field in the 4-byte varint form (RFC 9000
	// §16 permits non-minimal varint encodings), so this matches the
	// serialized prefix exactly and a packet built with min == max comes
	// out at exactly that size.
	n += 4
	return n
}

// appendLongHeaderPrefix writes flags, version, DCID, SCID, and (for
// Initial) the token, leaving the length varint and packet number for
// the caller to append once the payload length is known. numLen selects
// the packet-number-length bits of the flags byte (pre-header-protection; bits are folded
// in by applyHeaderProtection after encryption).
func appendLongHeaderPrefix(buf []byte, ptype packetType, version uint32, dcid, scid, token []byte, numLen int) []byte {
	flags := longHeaderForm | byte(ptype)<<4 | byte(numLen-1)
	buf = append(buf, flags)
	buf = append(buf, byte(version>>24), byte(version>>16), byte(version>>8), byte(version))
	buf = append(buf, byte(len(dcid)))
	buf = append(buf, dcid...)
	buf = append(buf, byte(len(scid)))
	buf = append(buf, scid...)
	if ptype == packetTypeInitial {
		buf = appendVarint(buf, uint64(len(token)))
		buf = append(buf, token...)
	}
	return buf
}

// appendShortHeader writes a 1-RTT (Application) short header: flags,
// DCID, packet number. keyPhase selects the K bit.
func appendShortHeader(buf []byte, dcid []byte, keyPhase bool, numLen int) []byte {
	flags := shortHeaderForm | byte(numLen-1)
	if keyPhase {
		flags |= 0x04
	}
	buf = append(buf, flags)
	buf = append(buf, dcid...)
	return buf
}

// headerProtectionSampleOffset returns the offset (from the start of the
// packet) at which the 16-byte header-protection sample begins, given
// the offset of the packet-number field. RFC 9001 §5.4.2: "4 bytes after
// the start of the Packet Number field", using an assumed 4-byte PN
// field regardless of the actual (shorter) encoded length.
func headerProtectionSampleOffset(pnOffset int) int { return pnOffset + 4 }

// applyHeaderProtection XORs mask into the flags byte and the packet
// number bytes, in place. isLong selects whether 4 or 5 low bits of the
// flags byte are protected (RFC 9001 §5.4.1).
func applyHeaderProtection(buf []byte, flagsOffset, pnOffset, numLen int, mask [5]byte, isLong bool) {
	if isLong {
		buf[flagsOffset] ^= mask[0] & 0x0f
	} else {
		buf[flagsOffset] ^= mask[0] & 0x1f
	}
	for i := 0; i < numLen; i++ {
		buf[pnOffset+i] ^= mask[1+i]
	}
}

// removeHeaderProtection reverses applyHeaderProtection given the
// already-derived mask and the (now-protected) numLen guess; callers on
// the decrypt path derive numLen from the unprotected low bits first.
func removeHeaderProtection(buf []byte, flagsOffset, pnOffset, numLen int, mask [5]byte, isLong bool) {
	applyHeaderProtection(buf, flagsOffset, pnOffset, numLen, mask, isLong)
}
