// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package quic

import (
	"encoding/binary"
	"errors"
	"net"
	"syscall"
	"unsafe"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// udpWriter is the Linux implementation of datagramWriter (C1). It is
// built on golang.org/x/net/ipv4 and ipv6 for the plain send and
// sendmmsg paths (their PacketConn.WriteTo/WriteBatch already wrap
// sendmsg/sendmmsg with control-message support), and drops to raw
// golang.org/x/sys/unix for GSO, which x/net's control-message API does
// not expose. Grounded on runZeroInc-sockstats/pkg/tcpinfo/tcpinfo_linux.go
// and pkg/kernel/kernel_unix.go for the x/sys/unix raw-syscall style, and
// on tinyrange-cc's go.mod (which already depends on golang.org/x/net)
// for the batch/control-message layer.
type udpWriter struct {
	conn     *net.UDPConn
	fd       int
	v6       bool
	wildcard bool // true for a socket bound to the unspecified address

	pc4 *ipv4.PacketConn
	pc6 *ipv6.PacketConn
}

// localAddr, when embedded in the net.Addr passed to send, tells a
// wildcard-bound writer which local address to reply from (spec.md §6:
// "IP_RECVORIGDSTADDR/equivalent cmsg is attached when the socket is a
// wildcard listener").
type localAddr struct {
	net.Addr
	Local net.IP
}

func newUDPWriter(conn *net.UDPConn, wildcard bool) (*udpWriter, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	var fd int
	if err := raw.Control(func(fdv uintptr) { fd = int(fdv) }); err != nil {
		return nil, err
	}
	v6 := conn.LocalAddr().(*net.UDPAddr).IP.To4() == nil
	w := &udpWriter{conn: conn, fd: fd, v6: v6, wildcard: wildcard}
	if v6 {
		w.pc6 = ipv6.NewPacketConn(conn)
		if wildcard {
			w.pc6.SetControlMessage(ipv6.FlagDst|ipv6.FlagInterface, true)
		}
	} else {
		w.pc4 = ipv4.NewPacketConn(conn)
		if wildcard {
			w.pc4.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true)
		}
	}
	return w, nil
}

func (w *udpWriter) gsoSupported() bool      { return true }
func (w *udpWriter) sendmmsgSupported() bool { return true }

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
		return ErrAgain
	}
	return err
}

func (w *udpWriter) send(buf []byte, addr net.Addr) (int, error) {
	udpAddr, src := splitLocalAddr(addr)
	if w.v6 {
		var cm *ipv6.ControlMessage
		if w.wildcard && src != nil {
			cm = &ipv6.ControlMessage{Src: src}
		}
		n, err := w.pc6.WriteTo(buf, cm, udpAddr)
		return n, translateErr(err)
	}
	var cm *ipv4.ControlMessage
	if w.wildcard && src != nil {
		cm = &ipv4.ControlMessage{Src: src}
	}
	n, err := w.pc4.WriteTo(buf, cm, udpAddr)
	return n, translateErr(err)
}

func splitLocalAddr(addr net.Addr) (net.Addr, net.IP) {
	if la, ok := addr.(localAddr); ok {
		return la.Addr, la.Local
	}
	return addr, nil
}

// sendSegments issues one sendmsg with a UDP_SEGMENT control message,
// implementing GSO (spec.md §4.1, §6). buf must contain 1..64
// back-to-back packets of exactly segmentSize bytes (the final one may
// be shorter).
func (w *udpWriter) sendSegments(buf []byte, addr net.Addr, segmentSize int) (int, error) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, errors.New("quic: sendSegments requires a *net.UDPAddr")
	}
	sa, err := udpAddrToSockaddr(udpAddr, w.v6)
	if err != nil {
		return 0, err
	}
	oob := gsoControlMessage(segmentSize)
	var raw syscall.RawConn
	raw, err = w.conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var n int
	var sendErr error
	ctrlErr := raw.Write(func(fd uintptr) bool {
		n, sendErr = unix.SendmsgN(int(fd), buf, oob, sa, 0)
		if sendErr == unix.EAGAIN {
			return false // ask runtime to wait for writability, then retry
		}
		return true
	})
	if ctrlErr != nil {
		return n, ctrlErr
	}
	return n, translateErr(sendErr)
}

// gsoControlMessage builds the raw UDP_SEGMENT cmsg body (a single
// uint16 segment size), matching the layout the kernel expects for
// SOL_UDP/UDP_SEGMENT (Linux udp(7)).
func gsoControlMessage(segmentSize int) []byte {
	cmsg := make([]byte, unix.CmsgSpace(2))
	hdr := (*unix.Cmsghdr)(unsafe.Pointer(&cmsg[0]))
	hdr.Level = unix.SOL_UDP
	hdr.Type = unix.UDP_SEGMENT
	hdr.SetLen(unix.CmsgLen(2))
	binary.NativeEndian.PutUint16(cmsg[unix.CmsgLen(0):], uint16(segmentSize))
	return cmsg
}

func udpAddrToSockaddr(addr *net.UDPAddr, v6 bool) (unix.Sockaddr, error) {
	if v6 {
		var sa unix.SockaddrInet6
		sa.Port = addr.Port
		ip := addr.IP.To16()
		if ip == nil {
			return nil, errors.New("quic: invalid IPv6 address")
		}
		copy(sa.Addr[:], ip)
		return &sa, nil
	}
	var sa unix.SockaddrInet4
	sa.Port = addr.Port
	ip := addr.IP.To4()
	if ip == nil {
		return nil, errors.New("quic: invalid IPv4 address")
	}
	copy(sa.Addr[:], ip)
	return &sa, nil
}

// sendMany issues one sendmmsg over up to maxSendmmsg independent
// datagrams via x/net's batch API, which already wraps sendmmsg.
func (w *udpWriter) sendMany(iov [][]byte, addr net.Addr) (int, error) {
	udpAddr, _ := splitLocalAddr(addr)
	if w.v6 {
		msgs := make([]ipv6.Message, len(iov))
		for i, b := range iov {
			msgs[i].Buffers = [][]byte{b}
			msgs[i].Addr = udpAddr
		}
		n, err := w.pc6.WriteBatch(msgs, 0)
		return n, translateErr(err)
	}
	msgs := make([]ipv4.Message, len(iov))
	for i, b := range iov {
		msgs[i].Buffers = [][]byte{b}
		msgs[i].Addr = udpAddr
	}
	n, err := w.pc4.WriteBatch(msgs, 0)
	return n, translateErr(err)
}

// withDontFragment toggles IP_MTU_DISCOVER (or IPV6_MTU_DISCOVER) to DO
// around a PMTU probe send, restoring DONT afterward (spec.md §4.5,
// §6). Dual-stack sockets (IPv6 non-v6only) must also set the IPv4
// option, since a probe may be sent to a v4-mapped peer.
func (w *udpWriter) withDontFragment(fn func() error) error {
	raw, err := w.conn.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		level, opt := unix.IPPROTO_IP, unix.IP_MTU_DISCOVER
		if w.v6 {
			level, opt = unix.IPPROTO_IPV6, unix.IPV6_MTU_DISCOVER
		}
		if err := unix.SetsockoptInt(int(fd), level, opt, unix.IP_PMTUDISC_DO); err != nil {
			opErr = err
			return
		}
		defer unix.SetsockoptInt(int(fd), level, opt, unix.IP_PMTUDISC_DONT)
		if w.v6 {
			// Dual-stack socket: also cover v4-mapped peers.
			unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO)
			defer unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DONT)
		}
		opErr = fn()
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return opErr
}
