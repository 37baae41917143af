// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 37, 63, 64, 15293, 16383, 16384,
		494878333, 1073741823, 1073741824,
		151288809941952652, 4611686018427387903,
	}
	for _, v := range values {
		buf := appendVarint(nil, v)
		if got := varintLen(v); got != len(buf) {
			t.Errorf("varintLen(%d) = %d, want %d (actual encoded length)", v, got, len(buf))
		}
		got, rest, ok := consumeVarint(buf)
		if !ok {
			t.Fatalf("consumeVarint(%x) failed to parse", buf)
		}
		if len(rest) != 0 {
			t.Errorf("consumeVarint(%x) left %d trailing bytes, want 0", buf, len(rest))
		}
		if got != v {
			t.Errorf("consumeVarint(%x) = %d, want %d", buf, got, v)
		}
	}
}

func TestVarintWireExamples(t *testing.T) {
	// RFC 9000 Appendix A.1 worked examples.
	cases := []struct {
		value uint64
		wire  []byte
	}{
		{151288809941952652, []byte{0xc2, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c}},
		{494878333, []byte{0x9d, 0x7f, 0x3e, 0x7d}},
		{15293, []byte{0x7b, 0xbd}},
		{37, []byte{0x25}},
	}
	for _, c := range cases {
		got := appendVarint(nil, c.value)
		if len(got) != len(c.wire) {
			t.Fatalf("appendVarint(%d) = %x, want %x", c.value, got, c.wire)
		}
		for i := range got {
			if got[i] != c.wire[i] {
				t.Errorf("appendVarint(%d)[%d] = %#x, want %#x", c.value, i, got[i], c.wire[i])
			}
		}
		v, rest, ok := consumeVarint(c.wire)
		if !ok || v != c.value || len(rest) != 0 {
			t.Errorf("consumeVarint(%x) = %d, %d remaining, %v, want %d, 0, true", c.wire, v, len(rest), ok, c.value)
		}
	}
}

func TestConsumeVarintShortBuffer(t *testing.T) {
	if _, _, ok := consumeVarint(nil); ok {
		t.Errorf("consumeVarint(nil) succeeded, want failure")
	}
	if _, _, ok := consumeVarint([]byte{0xc2, 0x19}); ok {
		t.Errorf("consumeVarint(truncated 8-byte form) succeeded, want failure")
	}
}
