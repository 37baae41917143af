// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "github.com/sirupsen/logrus"

// logFields builds the structured fields every egress log line carries,
// grounded on the logrus usage in runZeroInc-sockstats/cmd/get/main.go
// and pkg/exporter/exporter.go (a plain *logrus.Logger / error callback
// threaded down from the caller, rather than a package-global logger).
func logFields(c *Conn, space numberSpace) logrus.Fields {
	return logrus.Fields{
		"conn":  c.id,
		"space": space.String(),
	}
}
