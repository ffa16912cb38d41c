// SPDX-License-Identifier: GPL-3.0-or-later

// Package corenet provides a general-purpose network service runtime: a
// task scheduler built on goroutines, a readiness-notification reactor, a
// non-blocking pipe abstraction, and the connection-management layers built
// on top of them (TLS, DNS caching, an endpoint-pooled cluster dialer, and
// HTTP/1.1 framing), plus the fd-handoff contract used by a hot-swap process
// supervisor.
//
// # Packages
//
//   - github.com/bassosimone/corenet/reactor: owns the readiness notifier
//     (epoll), the timer (timerfd), and a pool of worker goroutines; exposes
//     fd registration, scheduled callbacks, and pause/barrier primitives.
//   - github.com/bassosimone/corenet/task: cooperative task (goroutine)
//     spawn/sleep/join plus task-aware Mutex and Cond.
//   - github.com/bassosimone/corenet/pipe: a non-blocking fd wrapper that
//     looks like blocking I/O to a task, parking it on reactor readiness.
//   - github.com/bassosimone/corenet/tlspipe: TLS layered directly over a
//     Pipe.
//   - github.com/bassosimone/corenet/dnscache: background DNS resolution
//     with round-robin and per-address cooldown.
//   - github.com/bassosimone/corenet/cluster: a per-host pool of endpoints
//     with DNS refresh, idle reuse, and retry/backoff.
//   - github.com/bassosimone/corenet/httpcore: HTTP/1.1 server and client
//     framing over a Pipe.
//   - github.com/bassosimone/corenet/sproc: the supervisor handshake
//     (inherited listener fds, cmd_fd protocol) for hot-swap upgrades.
//
// This root package holds the cross-cutting pieces every package above
// shares: [Config], [SLogger], [ErrClassifier], the [Func] composition
// helpers, and [NewSpanID].
//
// # Composition utilities
//
// [Func] represents an atomic operation with exactly one success mode and
// one failure mode; [Compose2] through [Compose8] chain them into
// type-checked pipelines, [Apply] binds a fixed input, and [ConstFunc] lifts
// a pure value. No package in this module chains Funcs with these helpers;
// [httpcore]'s TCPServerFunc implements [Func] so that callers can.
//
// # Observability
//
// All packages support structured logging via [SLogger] (compatible with
// [log/slog]). By default, logging is disabled; set [Config.Logger] to a
// custom [*slog.Logger] to enable it. Error classification is configurable
// via [Config.ErrClassifier]; the default delegates to
// github.com/bassosimone/corenet/errclass.New.
//
// Use [NewSpanID] to generate a unique, time-ordered identifier (UUIDv7) for
// a task or connection lifetime, then attach it to the logger with
// [*slog.Logger.With] so all log entries from that lifetime correlate.
//
// # Concurrency model
//
// A Task is a goroutine. The reactor and pipe packages exist because the
// standard library does not expose raw readiness notification or
// timer-backed scheduling callbacks; everywhere else, this runtime uses
// ordinary goroutines, channels, and context cancellation rather than
// reimplementing stackful coroutines. See each package's doc comment for the
// specific suspension/resume contract it preserves.
package corenet
