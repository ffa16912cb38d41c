// SPDX-License-Identifier: GPL-3.0-or-later

package sproc

import (
	"time"

	"github.com/bassosimone/corenet"
)

// Config configures a [Supervisor].
type Config struct {
	// Corenet carries the shared logger/error classifier/clock. A nil
	// Corenet uses [corenet.NewConfig]'s defaults.
	Corenet *corenet.Config

	// StartAckDeadline bounds how long the startup ack write+watchdog
	// waits before logging a warning. Zero uses spec.md §6's ~1s
	// default.
	StartAckDeadline time.Duration

	// QuiesceTimeout bounds how long CmdStop waits for live pipes to
	// drain before giving up and stopping the reactor anyway. Zero uses
	// a 30s default.
	QuiesceTimeout time.Duration
}

func (c *Config) corenet() *corenet.Config {
	if c == nil || c.Corenet == nil {
		return corenet.NewConfig()
	}
	return c.Corenet
}

func (c *Config) startAckDeadline() time.Duration {
	if c == nil || c.StartAckDeadline <= 0 {
		return time.Second
	}
	return c.StartAckDeadline
}

func (c *Config) quiesceTimeout() time.Duration {
	if c == nil || c.QuiesceTimeout <= 0 {
		return 30 * time.Second
	}
	return c.QuiesceTimeout
}
