// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"encoding/hex"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

func hexString(b []byte) string { return hex.EncodeToString(b) }

// pathState is socket.path.state from spec.md §3.
type pathState int

const (
	pathNew pathState = iota
	pathWaiting
	pathValidated
)

// pathInfo is socket.path from spec.md §3: per-path anti-amplification
// bookkeeping (invariant I3).
type pathInfo struct {
	addr     net.Addr
	state    pathState
	received int // bytes received from this peer address
	sent     int // bytes sent to this peer address
}

func (p *pathInfo) validated() bool { return p.state == pathValidated }

// budget returns the anti-amplification-limited byte budget remaining
// for this path: 3*received - sent, floored at 0 (spec.md I3, §4.3).
func (p *pathInfo) budget() int {
	if p.validated() {
		return maxUDPPayloadSize
	}
	b := 3*p.received - p.sent
	if b < 0 {
		return 0
	}
	return b
}

// transportParams holds the subset of local/peer transport parameters
// the egress engine cares about (spec.md §3: tp, ctp).
type transportParams struct {
	maxUDPPayloadSize int
	maxIdleTimeout    time.Duration
	ackDelayExponent  uint8
}

// congestionState is spec.md §3's congestion = {window, in_flight}. The
// congestion controller proper (slow start, recovery, pacing) is an
// out-of-scope collaborator (spec.md §1); the egress engine only reads
// these two counters to decide how much more may be sent.
type congestionState struct {
	window   int
	inFlight int
}

func (c *congestionState) blocked() bool { return c.inFlight >= c.window }

// TransportError is the terminal-error state described by spec.md §3
// (error, error_reason, error_level).
type TransportError struct {
	Code      uint64
	Reason    string
	Level     numberSpace
	AppLayer  bool
}

// LossNotifier lets the egress engine arm the loss-detection timer
// after output() (spec.md §4.4 step 5); loss detection itself is an
// out-of-scope collaborator.
type LossNotifier interface {
	ArmLossTimer(at time.Time)
	ArmIdleTimer(at time.Time)
}

// Conn is the connection state described by spec.md §3. It is the
// receiver for the egress operations (output, send_cc, send_ack,
// send_new_token, the PMTU entry points) exposed to collaborators.
type Conn struct {
	id   string
	side Side

	cfg *Config

	keys [numberSpaceCount]Keys
	send [numberSpaceCount]*sendContext

	tp  transportParams
	ctp transportParams

	congestion congestionState
	mtu        pmtuState

	path pathInfo

	closing  bool
	draining bool
	err      *TransportError
	lastCC   time.Time

	// sendTimerArmed mirrors the owning event loop's "push" timer state
	// (spec.md §4.4 step 3); the egress engine only reads it to decide
	// whether to additionally arm the idle timer.
	sendTimerArmed bool

	keyPhase int

	localConnID  []byte
	peerConnID   []byte
	peerAddr     net.Addr

	writer   datagramWriter
	loss     LossNotifier
	metrics  *Metrics
	logger   *logrus.Logger

	now func() time.Time // overridden by tests

	scratch1     [maxUDPPayloadSize]byte
	scratchGSO   [maxUDPSegmentBufSize]byte
	scratchMMSG  [maxSendmmsg][maxUDPPayloadSize]byte
}

// Side distinguishes client vs server perspective. The egress engine is
// server-only (spec.md §1 Non-goals: "Client-side QUIC"); Side exists
// only because several wire-format decisions (padding side, Initial
// send conditions) are phrased symmetrically in the RFCs and it is
// clearer to keep the discriminator explicit than to hard-code
// serverSide everywhere.
type Side int

const (
	serverSide Side = iota
	clientSide
)

const maxUDPSegmentBufSize = maxSegments * 1500

// NewConn constructs server-side connection state. Every level starts
// with unsetKeys{}; the handshake collaborator installs real keys with
// SetKeys as it derives them.
func NewConn(cfg *Config, writer datagramWriter, loss LossNotifier, peerAddr net.Addr, localConnID, peerConnID []byte) *Conn {
	c := &Conn{
		id:          hexString(localConnID),
		side:        serverSide,
		cfg:         cfg,
		writer:      writer,
		loss:        loss,
		peerAddr:    peerAddr,
		localConnID: localConnID,
		peerConnID:  peerConnID,
		now:         time.Now,
	}
	if cfg.Metrics != nil {
		c.metrics = cfg.Metrics
	} else {
		c.metrics = noopMetrics()
	}
	c.logger = cfg.logger()
	for i := range c.keys {
		c.keys[i] = unsetKeys{}
	}
	for i := numberSpace(0); i < numberSpaceCount; i++ {
		ctx := newSendContext(i)
		ctx.streamShuffle = cfg.streamShuffle()
		c.send[i] = ctx
	}
	c.tp = transportParams{maxUDPPayloadSize: defaultIPv4DatagramCeiling, maxIdleTimeout: 30 * time.Second, ackDelayExponent: 3}
	c.ctp = transportParams{maxUDPPayloadSize: defaultIPv4DatagramCeiling, maxIdleTimeout: 30 * time.Second, ackDelayExponent: 3}
	c.congestion = congestionState{window: 12000}
	c.path = pathInfo{addr: peerAddr, state: pathNew}
	c.mtu = newPMTUState(minimumInitialDatagramSize, defaultIPv4DatagramCeiling)
	return c
}

// SetKeys installs keying material for a level, called by the TLS
// handshake collaborator as each level becomes available.
func (c *Conn) SetKeys(level numberSpace, k Keys) { c.keys[level] = k }

func (c *Conn) identity(level numberSpace) packetIdentity {
	return packetIdentity{
		version:  1,
		dcid:     c.peerConnID,
		scid:     c.localConnID,
		keyPhase: c.keyPhase == 1,
	}
}
