// SPDX-License-Identifier: GPL-3.0-or-later

package corenet

import "time"

// Config holds configuration shared across the runtime's packages
// (reactor, task, pipe, tlspipe, dnscache, cluster, httpcore, sproc).
//
// Pass this to constructor functions to pre-wire dependencies. All fields
// have sensible defaults set by [NewConfig]. This is the same config-object
// convention the teacher used per-package; here it is hoisted to the root
// package so every subsystem shares one clock and one error classifier
// instead of redefining them.
type Config struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// Logger receives structured events from every subsystem.
	//
	// Set by [NewConfig] to [DefaultSLogger].
	Logger SLogger

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		ErrClassifier: DefaultErrClassifier,
		Logger:        DefaultSLogger(),
		TimeNow:       time.Now,
	}
}
