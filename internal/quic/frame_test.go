// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"bytes"
	"testing"
)

// decodeStreamFrame parses a STREAM frame body back into its fields, for
// asserting splitStreamFrame produced genuinely valid wire frames rather
// than raw byte halves.
func decodeStreamFrame(t *testing.T, body []byte) (streamID uint64, offset uint64, data []byte) {
	t.Helper()
	if len(body) == 0 {
		t.Fatalf("empty STREAM frame body")
	}
	wireTyp := body[0]
	if wireTyp&0xf8 != byte(frameTypeStream) {
		t.Fatalf("body[0] = %#x, not a STREAM frame type byte", wireTyp)
	}
	if wireTyp&0x02 == 0 {
		t.Fatalf("split STREAM frame must carry an explicit length field")
	}
	rest := body[1:]
	streamID, rest, ok := consumeVarint(rest)
	if !ok {
		t.Fatalf("could not parse stream ID")
	}
	if wireTyp&0x04 != 0 {
		offset, rest, ok = consumeVarint(rest)
		if !ok {
			t.Fatalf("could not parse offset")
		}
	}
	n, rest, ok := consumeVarint(rest)
	if !ok || uint64(len(rest)) < n {
		t.Fatalf("could not parse length")
	}
	return streamID, offset, rest[:n]
}

func TestSplitStreamFramePreservesWireFormat(t *testing.T) {
	original := bytes.Repeat([]byte{0xAB}, 2000)
	body := []byte{byte(frameTypeStream) | 0x02} // LEN bit set, OFF/FIN clear
	body = appendVarint(body, 7)                 // stream ID
	body = appendVarint(body, uint64(len(original)))
	body = append(body, original...)

	f := &Frame{typ: frameTypeStream, needAck: true, body: body}
	head, tail, err := splitFrame(f, 100)
	if err != nil {
		t.Fatalf("splitFrame: %v", err)
	}

	headID, headOff, headData := decodeStreamFrame(t, head.body)
	tailID, tailOff, tailData := decodeStreamFrame(t, tail.body)

	if headID != 7 || tailID != 7 {
		t.Errorf("stream ID head=%d tail=%d, want 7 for both", headID, tailID)
	}
	if headOff != 0 {
		t.Errorf("head offset = %d, want 0", headOff)
	}
	if tailOff != uint64(len(headData)) {
		t.Errorf("tail offset = %d, want %d (head data length)", tailOff, len(headData))
	}
	if head.body[0]&0x01 != 0 {
		t.Errorf("head FIN bit set, want clear (more data follows)")
	}
	if len(head.body) > 100 {
		t.Errorf("head frame is %d bytes, want <= 100 (room)", len(head.body))
	}
	if len(headData) == 0 || len(headData) >= len(original) {
		t.Fatalf("headData length %d out of range for original length %d", len(headData), len(original))
	}
	reassembled := append(append([]byte(nil), headData...), tailData...)
	if !bytes.Equal(reassembled, original) {
		t.Errorf("reassembled data does not match original: got %d bytes, want %d bytes", len(reassembled), len(original))
	}
}

func TestSplitStreamFramePreservesFINOnTail(t *testing.T) {
	original := bytes.Repeat([]byte{0x11}, 50)
	body := []byte{byte(frameTypeStream) | 0x04 | 0x02 | 0x01} // OFF+LEN+FIN
	body = appendVarint(body, 3)
	body = appendVarint(body, 1000) // nonzero starting offset
	body = appendVarint(body, uint64(len(original)))
	body = append(body, original...)

	f := &Frame{typ: frameTypeStream, body: body}
	_, tail, err := splitFrame(f, len(body[:1])+8)
	if err != nil {
		t.Fatalf("splitFrame: %v", err)
	}
	if tail.body[0]&0x01 == 0 {
		t.Errorf("tail FIN bit cleared, want preserved from original frame")
	}
	_, tailOff, _ := decodeStreamFrame(t, tail.body)
	if tailOff <= 1000 {
		t.Errorf("tail offset = %d, want > 1000 (original offset plus head's share)", tailOff)
	}
}

func TestSplitCryptoFramePreservesWireFormat(t *testing.T) {
	original := bytes.Repeat([]byte{0xCD}, 1500)
	body := appendVarint(nil, uint64(frameTypeCrypto))
	body = appendVarint(body, 200) // starting offset
	body = appendVarint(body, uint64(len(original)))
	body = append(body, original...)

	f := &Frame{typ: frameTypeCrypto, needAck: true, body: body}
	head, tail, err := splitFrame(f, 80)
	if err != nil {
		t.Fatalf("splitFrame: %v", err)
	}

	typVal, rest, ok := consumeVarint(head.body)
	if !ok || frameType(typVal) != frameTypeCrypto {
		t.Fatalf("head does not start with a CRYPTO frame type varint")
	}
	headOff, rest, ok := consumeVarint(rest)
	if !ok || headOff != 200 {
		t.Fatalf("head offset = %d, want 200", headOff)
	}
	headLen, rest, ok := consumeVarint(rest)
	if !ok || uint64(len(rest)) != headLen {
		t.Fatalf("head length field %d does not match remaining body %d", headLen, len(rest))
	}
	headData := rest

	typVal, rest, ok = consumeVarint(tail.body)
	if !ok || frameType(typVal) != frameTypeCrypto {
		t.Fatalf("tail does not start with a CRYPTO frame type varint")
	}
	tailOff, rest, ok := consumeVarint(rest)
	if !ok || tailOff != 200+headLen {
		t.Fatalf("tail offset = %d, want %d", tailOff, 200+headLen)
	}
	tailLen, rest, ok := consumeVarint(rest)
	if !ok || uint64(len(rest)) != tailLen {
		t.Fatalf("tail length field %d does not match remaining body %d", tailLen, len(rest))
	}

	reassembled := append(append([]byte(nil), headData...), rest...)
	if !bytes.Equal(reassembled, original) {
		t.Errorf("reassembled CRYPTO data does not match original: got %d bytes, want %d", len(reassembled), len(original))
	}
}

func TestSplitFrameRejectsIndivisibleType(t *testing.T) {
	f := &Frame{typ: frameTypeConnCloseApp, body: make([]byte, 100)}
	if _, _, err := splitFrame(f, 10); err == nil {
		t.Errorf("splitFrame on a CONNECTION_CLOSE frame succeeded, want ErrShortBuffer")
	}
}
