// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "errors"

// ErrAgain is returned by the datagram writer (C1) when a syscall reports
// EAGAIN/EWOULDBLOCK. The caller reverts the in-progress build and arms a
// retry timer; this is never surfaced to the connection's owner.
var ErrAgain = errors.New("quic: send would block")

// ErrShortBuffer is returned by splitFrame when a frame cannot be divided
// to fit the available room, and by the PMTU prober and the
// CONNECTION_CLOSE emitters when buildPacket produces no packet.
var ErrShortBuffer = errors.New("quic: buffer too small for packet")

// declinedError marks a single-shot emitter outcome that intentionally
// produced no packet (RFC 9000 rate limiting, e.g. Stateless Reset sizing).
type declinedError struct{ reason string }

func (e *declinedError) Error() string { return "quic: declined: " + e.reason }

// Declined reports whether err is a "declined, not a failure" outcome from
// a single-shot emitter (C6).
func Declined(err error) bool {
	_, ok := err.(*declinedError)
	return ok
}

func declinef(reason string) error { return &declinedError{reason: reason} }
