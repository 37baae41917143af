// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "net"

// datagramWriter is the Datagram Writer (C1) contract: send one or many
// datagrams via the best available syscall, translating transient
// back-pressure into ErrAgain (spec.md §4.1).
type datagramWriter interface {
	// send issues one sendmsg for buf. If the underlying socket is a
	// wildcard listener, implementations attach a source-address
	// control message so replies originate from the address the
	// triggering datagram arrived on.
	send(buf []byte, addr net.Addr) (n int, err error)

	// sendSegments issues one sendmsg carrying a UDP_SEGMENT control
	// message of segmentSize, splitting buf into up to maxSegments
	// datagrams via GSO. len(buf) must be a multiple of segmentSize
	// except possibly for a shorter final segment.
	sendSegments(buf []byte, addr net.Addr, segmentSize int) (n int, err error)

	// sendMany issues one sendmmsg over iov, each element one datagram.
	// Returns the number of datagrams actually sent; partial success
	// (0 < n < len(iov)) is propagated to the caller rather than
	// silently treated as full success (spec.md §4.1).
	sendMany(iov [][]byte, addr net.Addr) (n int, err error)

	// gsoSupported reports whether sendSegments can be used on this
	// platform/socket.
	gsoSupported() bool
	// sendmmsgSupported reports whether sendMany can be used.
	sendmmsgSupported() bool

	// withDontFragment runs fn with the socket's don't-fragment option
	// set (IP_MTU_DISCOVER / IPV6_MTU_DISCOVER), then sets the option to
	// "don't set DF" (IP_PMTUDISC_DONT) before returning, whatever it
	// was before the call. Used by the PMTU prober (C5) to send a
	// probe that the kernel will not silently fragment.
	withDontFragment(fn func() error) error
}
