// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Constants from spec.md §6.
const (
	retryTokenLifetime  = 3 * time.Second
	newTokenLifetime    = 600 * time.Second
	ccMinInterval       = 1000 * time.Millisecond
	socketRetryDelay    = 10 * time.Millisecond
	minPacketLen        = 21
	minStatelessReset   = 43
	maxSegments         = 64
	maxSendmmsg         = 64
	maxUDPPayloadSize   = 65527
	maxUDPSegmentSize   = 65487
	defaultIPv4DatagramCeiling = 1252
	defaultIPv6DatagramCeiling = 1232
	minimumInitialDatagramSize = 1200
)

// Config is the engine's configuration surface (spec.md §6). There is
// deliberately no loader for this struct (no file/env/flag parsing): spec.md
// lists "configuration loading" as a non-goal, so callers build a Config
// directly.
type Config struct {
	// MTUDiscovery enables the PMTU prober (C5); invoked after every
	// output() call that sent at least one datagram.
	MTUDiscovery bool

	// GSOEnabled permits the GSO packing strategy.
	GSOEnabled bool

	// SendmmsgEnabled permits the sendmmsg packing strategy.
	SendmmsgEnabled bool

	// StreamShuffle bounds how many frames are drained consecutively
	// from one stream sub-queue before round-robin rotation.
	StreamShuffle int

	// AvTokenKey signs Retry and NEW_TOKEN anti-amplification tokens.
	AvTokenKey [32]byte

	// SrTokenKey derives Stateless Reset tokens.
	SrTokenKey [32]byte

	// Logger receives structured diagnostics. Defaults to a standard
	// logrus logger if nil.
	Logger *logrus.Logger

	// Metrics receives egress counters. If nil, the connection uses a
	// Metrics set that is not registered with any registry.
	Metrics *Metrics
}

func (c *Config) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}

func (c *Config) streamShuffle() int {
	if c.StreamShuffle <= 0 {
		return 8
	}
	return c.StreamShuffle
}
